// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credstore

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/temnoon/humanizer-ai/internal/provider"
)

func TestSetGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	s := NewStore(path, "correct horse battery staple")

	if err := s.SetKey(provider.TypeOpenAI, "sk-test-12345"); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.GetKey(provider.TypeOpenAI)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "sk-test-12345" {
		t.Errorf("got %q", got)
	}

	// Overwrite replaces.
	if err := s.SetKey(provider.TypeOpenAI, "sk-rotated"); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetKey(provider.TypeOpenAI)
	if err != nil {
		t.Fatal(err)
	}
	if got != "sk-rotated" {
		t.Errorf("rotation did not apply: %q", got)
	}
}

func TestGetMissingKey(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "credentials.json"), "pass")
	if err := s.SetKey(provider.TypeOpenAI, "sk-x"); err != nil {
		t.Fatal(err)
	}
	_, err := s.GetKey(provider.TypeAnthropic)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteKey(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "credentials.json"), "pass")
	if err := s.SetKey(provider.TypeGroq, "gsk-abc"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteKey(provider.TypeGroq); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetKey(provider.TypeGroq); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted key still readable: %v", err)
	}
	// Deleting again is not an error.
	if err := s.DeleteKey(provider.TypeGroq); err != nil {
		t.Errorf("double delete: %v", err)
	}
}

func TestPlaintextNeverOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	s := NewStore(path, "pass")
	const secret = "sk-super-secret-never-on-disk"
	if err := s.SetKey(provider.TypeOpenAI, secret); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), secret) {
		t.Error("credential stored in plaintext")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("credential file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestWrongPassphraseFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	if err := NewStore(path, "right").SetKey(provider.TypeOpenAI, "sk-x"); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStore(path, "wrong").GetKey(provider.TypeOpenAI); err == nil {
		t.Error("wrong passphrase should fail to decrypt")
	}
}

func TestEntriesBoundToProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	s := NewStore(path, "pass")
	if err := s.SetKey(provider.TypeOpenAI, "sk-openai"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetKey(provider.TypeAnthropic, "sk-ant-key"); err != nil {
		t.Fatal(err)
	}

	a, err := s.GetKey(provider.TypeOpenAI)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.GetKey(provider.TypeAnthropic)
	if err != nil {
		t.Fatal(err)
	}
	if a != "sk-openai" || b != "sk-ant-key" {
		t.Errorf("entries crossed: %q %q", a, b)
	}
}
