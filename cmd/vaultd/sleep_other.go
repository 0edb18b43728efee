//go:build !darwin

package main

func sleeper(chan struct{}) {}
