package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCell(t *testing.T) {
	cell, err := parseCell("50, 60,70,90,90,120")
	require.NoError(t, err)
	assert.Equal(t, 60.0, cell.B)
	assert.Equal(t, 120.0, cell.Gamma)

	_, err = parseCell("50,60,70")
	assert.Error(t, err)
	_, err = parseCell("50,60,x,90,90,90")
	assert.Error(t, err)
}

func TestParseGrid(t *testing.T) {
	g, err := parseGrid("48,64,72")
	require.NoError(t, err)
	assert.Equal(t, 48*64*72, g.Size())

	_, err = parseGrid("48,0,72")
	assert.Error(t, err)
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"init-config", "mask", "decompose", "refine"} {
		assert.True(t, names[want], want)
	}
}
