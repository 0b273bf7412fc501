//go:build linux

package main

func defaultBackend() string { return "amixer" }
