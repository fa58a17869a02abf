package main

import (
	"os"

	"github.com/blacksoil/HomographyAnalyzer/cmd/homography/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
