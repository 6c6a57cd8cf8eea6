package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"FirmwareUploader/controller"
	"FirmwareUploader/ports"
	"FirmwareUploader/uploader"

	"github.com/spf13/cobra"
)

var (
	configPath string
	assumeYes  bool
	env        *uploader.Env
)

var errFlowFailed = errors.New("operation failed, see messages above")

var rootCmd = &cobra.Command{
	Use:          "uploader",
	Short:        "Upload MicroPython firmware to ESP32, RP2 and Teensy boards",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		env, err = uploader.Start(configPath)
		return err
	},
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := ports.System{}.Ports()
		if err != nil {
			return fmt.Errorf("failed to list ports: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No serial ports found")
			return nil
		}
		fmt.Printf("%-24s %-6s %-6s %-8s %s\n", "PORT", "VID", "PID", "RP2040", "PRODUCT")
		fmt.Println(strings.Repeat("-", 70))
		for _, p := range list {
			pico := ""
			if ports.IsPicoLike(p) {
				pico = "yes"
			}
			fmt.Printf("%-24s %-6s %-6s %-8s %s\n", p.Name, p.VID, p.PID, pico, p.Product)
		}
		return nil
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload firmware-file",
	Short: "Upload a firmware file (.zip for ESP32, .uf2 for RP2, .hex/.elf for Teensy)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		port, _ := flags.GetString("port")
		processor, _ := flags.GetString("processor")
		device, _ := flags.GetString("device")
		baud, _ := flags.GetInt("baud")
		size, _ := flags.GetInt64("size")

		req := controller.UploadRequest{
			Port:         port,
			Firmware:     args[0],
			Processor:    processor,
			Device:       device,
			Baud:         baud,
			ExpectedSize: size,
		}
		return runFlow(func(c *controller.Controller) { c.Upload(req) })
	},
}

var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Erase the flash of an ESP32 board",
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")
		return runFlow(func(c *controller.Controller) { c.EraseFlash(port) })
	},
}

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Ask a running MicroPython board for its name",
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")
		return runFlow(func(c *controller.Controller) { c.Identify(port) })
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently finished upload steps",
	RunE: func(cmd *cobra.Command, args []string) error {
		if env.History == nil {
			return errors.New("upload history is not available")
		}
		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := env.History.Recent(limit)
		if err != nil {
			return fmt.Errorf("failed to read history: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("No uploads recorded")
			return nil
		}
		fmt.Printf("%-25s %-20s %-7s %-8s %-16s %s\n", "FINISHED_AT", "ACTION", "STATUS", "FAMILY", "PORT", "FIRMWARE")
		fmt.Println(strings.Repeat("-", 100))
		for _, e := range entries {
			status := "ok"
			if e.Status != 0 {
				status = "failed"
			}
			fmt.Printf("%-25s %-20s %-7s %-8s %-16s %s\n",
				e.FinishedAt.Format(time.RFC3339), e.ActionID, status, e.Family, e.Port, e.Firmware)
		}
		return nil
	},
}

// runFlow starts a controller, hands it one request and waits for the flow
// to finish or for an interrupt.
func runFlow(start func(c *controller.Controller)) error {
	ui := newTerminalUI(os.Stdout, os.Stdin, assumeYes)
	ctrl := env.NewController(ui)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	go ctrl.Run(ctx)

	start(ctrl)
	select {
	case ok := <-ui.done:
		if !ok {
			return errFlowFailed
		}
		return nil
	case <-ctx.Done():
		return errors.New("interrupted")
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default is the per-user config dir)")

	uploadCmd.Flags().StringP("port", "p", "", "Serial port of the board")
	uploadCmd.Flags().String("processor", "", "Processor family from board metadata (ESP32, RP2, Teensy)")
	uploadCmd.Flags().String("device", "", "Device name, e.g. \"Teensy 4.1\"")
	uploadCmd.Flags().Int("baud", 0, "ESP32 upload baud rate (default from config)")
	uploadCmd.Flags().Int64("size", 0, "Expected firmware size in bytes for progress (default: file size)")
	uploadCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Answer bootloader prompts with Ok")
	uploadCmd.MarkFlagRequired("port")
	rootCmd.AddCommand(uploadCmd)

	eraseCmd.Flags().StringP("port", "p", "", "Serial port of the board")
	eraseCmd.MarkFlagRequired("port")
	rootCmd.AddCommand(eraseCmd)

	identifyCmd.Flags().StringP("port", "p", "", "Serial port of the board")
	identifyCmd.MarkFlagRequired("port")
	rootCmd.AddCommand(identifyCmd)

	historyCmd.Flags().IntP("limit", "n", 20, "Number of records to show")
	rootCmd.AddCommand(historyCmd)

	rootCmd.AddCommand(portsCmd)
}

// execute runs the command line in args. The backend is closed on every
// path, failed and interrupted flows included, so the worker finishes its
// current job before the process exits.
func execute(args []string) error {
	rootCmd.SetArgs(args)
	defer func() {
		if env != nil {
			env.Close()
		}
	}()
	return rootCmd.Execute()
}

func main() {
	if err := execute(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
