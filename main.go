package main

import "github.com/bernsmp/zed-seo-tool/internal/app"

func main() {
	app.Main()
}
