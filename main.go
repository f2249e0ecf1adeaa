/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "homevoice/cmd"

func main() {
	cmd.Execute()
}
