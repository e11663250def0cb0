package main

import (
	"os"

	"horse.fit/curate/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
