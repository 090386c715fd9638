package main

import (
	"os"

	"github.com/kubengine/kubengine/pkg/cmd"
	"github.com/kubengine/kubengine/pkg/log"
)

func main() {
	if err := cmd.GetRootCommand().Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
