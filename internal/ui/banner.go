// Package ui provides colored console output for the ERNIE gateway.
package ui

import (
	"fmt"

	"github.com/fatih/color"
)

// ══════════════════════════════════════════════════════════════════════════════
// ASCII ART BANNER
// ══════════════════════════════════════════════════════════════════════════════

// Version is printed in the banner.
const Version = "v1.0.0"

// bannerRows holds the ERNIE letters, one column per letter.
var bannerRows = [][5]string{
	{"███████╗", "██████╗ ", "███╗   ██╗", "██╗", "███████╗"},
	{"██╔════╝", "██╔══██╗", "████╗  ██║", "██║", "██╔════╝"},
	{"█████╗  ", "██████╔╝", "██╔██╗ ██║", "██║", "█████╗  "},
	{"██╔══╝  ", "██╔══██╗", "██║╚██╗██║", "██║", "██╔══╝  "},
	{"███████╗", "██║  ██║", "██║ ╚████║", "██║", "███████╗"},
	{"╚══════╝", "╚═╝  ╚═╝", "╚═╝  ╚═══╝", "╚═╝", "╚══════╝"},
}

// PrintBanner displays the ASCII art startup banner.
func PrintBanner() {
	fmt.Println()

	// Blue to magenta gradient, one color per letter
	border := color.New(color.FgCyan, color.Bold)
	letters := []*color.Color{
		color.New(color.FgHiBlue, color.Bold),
		color.New(color.FgHiCyan),
		color.New(color.FgWhite, color.Bold),
		color.New(color.FgHiMagenta),
		color.New(color.FgMagenta, color.Bold),
	}
	yellow := color.New(color.FgYellow, color.Bold)
	white := color.New(color.FgWhite)
	dim := color.New(color.FgHiBlack)

	border.Println("╔════════════════════════════════════════════════════════════╗")

	for _, row := range bannerRows {
		border.Print("║  ")
		for i, part := range row {
			letters[i].Print(part)
			fmt.Print(" ")
		}
		dim.Print("              ")
		border.Println("║")
	}

	border.Println("╠════════════════════════════════════════════════════════════╣")

	border.Print("║  ")
	yellow.Print("🐻 ERNIE BOT GATEWAY")
	dim.Print("  │  ")
	letters[3].Print("OPENAI-COMPATIBLE")
	dim.Print("  │  ")
	white.Print(Version)
	dim.Print("      ")
	border.Println("║")

	border.Println("╚════════════════════════════════════════════════════════════╝")

	fmt.Println()
}

// PrintMiniBanner displays a one-box banner for plain or narrow terminals.
func PrintMiniBanner() {
	border := color.New(color.FgCyan, color.Bold)
	magenta := color.New(color.FgMagenta, color.Bold)

	fmt.Println()
	border.Println("╔══════════════════════════════════════╗")
	border.Print("║  ")
	magenta.Print("ERNIE BOT GATEWAY")
	fmt.Printf(" %-17s", Version)
	border.Println("║")
	border.Println("╚══════════════════════════════════════╝")
	fmt.Println()
}
