package main

import "github.com/danmuck/ipcmux/internal/logging"

func main() {
	logging.ConfigureRuntime()
	execute()
}
