package main

import (
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/app/meeting"
	"github.com/hashicorp/go-reap"
	"github.com/labstack/gommon/color"
)

func main() {
	printBanner()
	// ffmpeg children must not stay as zombies when we run as pid 1
	if reap.IsSupported() {
		go reap.ReapChildren(nil, nil, nil, nil)
	}
	meeting.Execute()
}

var (
	version string
)

func printBanner() {
	banner := `
                      __  _
   ____ ___  ___  ___/ /_(_)___  ____ _
  / __ ` + "`" + `__ \/ _ \/ _  __/ / __ \/ __ ` + "`" + `/
 / / / / / /  __/  / /_/ / / / / /_/ /
/_/ /_/ /_/\___/\__\__/_/_/ /_/\__, /
                              /____/
   ________  ______  _________/ /__  _____
  / ___/ _ \/ ___/ |/ / ___/ _  / _ \/ ___/
 / /  /  __/ /__/   / /__/ /_/ /  __/ /    v: %s
/_/   \___/\___/_/|_\___/\__,_/\___/_/
%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("github.com/Tereshaa/DocNexus-Teresha-Assignment"))
}
