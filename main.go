/*
   FirmwareUploader
   Copyright (C) 2025 FirmwareUploader Project

   This program is free software: you can redistribute it and/or modify
   it under the terms of the GNU General Public License as published by
   the Free Software Foundation, either version 3 of the License, or
   (at your option) any later version.

   This program is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
   GNU General Public License for more details.

   You should have received a copy of the GNU General Public License
   along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package main

import (
	"embed"
	"io/fs"

	"FirmwareUploader/logger"
	"FirmwareUploader/uploader"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/windows"
)

//go:embed all:frontend
var assets embed.FS

func getAssets() fs.FS {
	sub, err := fs.Sub(assets, "frontend")
	if err != nil {
		panic(err)
	}
	return sub
}

func main() {
	// Config, logging, history and the upload worker
	env, err := uploader.Start("")
	if err != nil {
		logger.Error("Failed to start uploader: %v", err)
		return
	}

	logger.Info("Firmware Uploader starting...")

	// Create an instance of the app structure
	app := NewApp(env)

	// Create application with options
	err = wails.Run(&options.App{
		Title: "MicroPython Firmware Uploader",
		Windows: &windows.Options{
			DisableWindowIcon: true,
		},
		Width:  900,
		Height: 640,
		AssetServer: &assetserver.Options{
			Assets: getAssets(),
		},
		BackgroundColour: &options.RGBA{R: 27, G: 38, B: 54, A: 1},
		OnStartup:        app.startup,
		OnShutdown:       app.shutdown,
		Bind: []interface{}{
			app,
		},
	})

	if err != nil {
		logger.Error("Application failed to start: %v", err)
	}
}
