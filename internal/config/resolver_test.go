// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"testing"

	"github.com/ManuGH/replaybuf/internal/flagstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeWith(t *testing.T, f flagstore.Flags) flagstore.Store {
	t.Helper()
	s := flagstore.NewMemoryStore()
	require.NoError(t, s.Save(f))
	return s
}

func TestEnabled(t *testing.T) {
	tests := []struct {
		name     string
		server   bool
		disabled bool
		want     bool
	}{
		{name: "server on", server: true, want: true},
		{name: "server off", server: false, want: false},
		{name: "client disable wins", server: true, disabled: true, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Resolver{
				Client: Client{Disabled: tt.disabled},
				Store:  storeWith(t, flagstore.Flags{Enabled: tt.server}),
			}
			assert.Equal(t, tt.want, r.Enabled())
		})
	}
}

func TestEnabledNoStore(t *testing.T) {
	assert.False(t, Resolver{}.Enabled())
}

func TestConsoleLogEnabled(t *testing.T) {
	on := true
	off := false

	tests := []struct {
		name   string
		client *bool
		server bool
		want   bool
	}{
		{name: "client on wins", client: &on, server: false, want: true},
		{name: "client off wins", client: &off, server: true, want: false},
		{name: "server fallback", client: nil, server: true, want: true},
		{name: "default false", client: nil, server: false, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Resolver{
				Client: Client{ConsoleLog: tt.client},
				Store:  storeWith(t, flagstore.Flags{ConsoleLog: tt.server}),
			}
			assert.Equal(t, tt.want, r.ConsoleLogEnabled())
		})
	}
}

func TestRecorderVersion(t *testing.T) {
	tests := []struct {
		name   string
		client string
		server string
		want   string
	}{
		{name: "client wins", client: "v2", server: "v1", want: "v2"},
		{name: "server fallback", client: "", server: "v1", want: "v1"},
		{name: "default", client: "", server: "", want: "v1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Resolver{
				Client: Client{RecorderVersion: tt.client},
				Store:  storeWith(t, flagstore.Flags{RecorderVersion: tt.server}),
			}
			assert.Equal(t, tt.want, r.RecorderVersion())
		})
	}
}
