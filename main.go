package main

import "github.com/cogbenchlab/voicetrial/cmd"

func main() {
	cmd.Execute()
}
