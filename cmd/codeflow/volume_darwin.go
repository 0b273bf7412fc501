//go:build darwin

package main

func defaultBackend() string { return "osascript" }
