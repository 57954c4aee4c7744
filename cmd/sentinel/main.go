package main

import (
	"github.com/vietddude/sentinel/internal/cli"
)

func main() {
	cli.Execute()
}
