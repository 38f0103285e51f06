package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/robotsgofarming/abls/cmd/abls-module/app"
)

func main() {
	app.NewApp().Run()
}
