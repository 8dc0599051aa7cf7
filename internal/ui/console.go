// Package ui provides colored console output for the ERNIE gateway.
// Request lines, token failover and cache hits get their own badges so the
// terminal reads at a glance.
package ui

import (
	"fmt"
	"time"

	"github.com/fatih/color"
)

// ══════════════════════════════════════════════════════════════════════════════
// COLOR DEFINITIONS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// Badge colors
	successBadge = color.New(color.BgGreen, color.FgBlack, color.Bold)
	warningBadge = color.New(color.FgYellow, color.Bold)
	errorBadge   = color.New(color.BgRed, color.FgWhite, color.Bold)
	infoBadge    = color.New(color.FgCyan, color.Bold)
	debugBadge   = color.New(color.FgMagenta)

	// Text colors
	successText = color.New(color.FgGreen, color.Bold)
	warningText = color.New(color.FgYellow)
	errorText   = color.New(color.FgRed)
	infoText    = color.New(color.FgCyan)
	mutedText   = color.New(color.FgHiBlack)
	accentText  = color.New(color.FgMagenta, color.Bold)

	// Special colors
	savedGreen = color.New(color.FgHiGreen, color.Bold)
	neonBlue   = color.New(color.FgHiCyan, color.Bold)

	// Method colors
	methodPOST   = color.New(color.BgHiMagenta, color.FgBlack, color.Bold)
	methodGET    = color.New(color.BgHiCyan, color.FgBlack, color.Bold)
	methodPUT    = color.New(color.BgHiYellow, color.FgBlack, color.Bold)
	methodDELETE = color.New(color.BgHiRed, color.FgBlack, color.Bold)
)

// ══════════════════════════════════════════════════════════════════════════════
// STATUS BADGES
// ══════════════════════════════════════════════════════════════════════════════

// PrintSwitching logs a token failover.
// Format: ⚠️ [SWITCHING] fromToken → toToken
func PrintSwitching(fromToken, toToken string) {
	fmt.Print("⚠️  ")
	warningBadge.Print("[SWITCHING]")
	fmt.Print(" ")
	mutedText.Print(maskKeyShort(fromToken))
	warningText.Print(" → ")
	accentText.Println(maskKeyShort(toToken))
}

// PrintDeadKey logs when an access token is benched.
// Format: 💀 [DEAD TOKEN] token benched (reason)
func PrintDeadKey(token string, reason string) {
	fmt.Print("💀 ")
	errorBadge.Print(" DEAD TOKEN ")
	fmt.Print(" ")
	errorText.Print(maskKeyShort(token))
	mutedText.Printf(" benched (%s)\n", reason)
}

// PrintRouterInfo logs general gateway information.
// Format: [GATEWAY] message
func PrintRouterInfo(msg string) {
	infoBadge.Print("[GATEWAY]")
	fmt.Print(" ")
	infoText.Println(msg)
}

// PrintTokensSaved logs how many ERNIE tokens a cache hit avoided.
// Format: 🪙 TOKENS SAVED 1.2k this request | total 34.5k
func PrintTokensSaved(saved, total string) {
	savedGreen.Print("🪙 TOKENS SAVED ")
	savedGreen.Print(saved)
	fmt.Print(" this request | total ")
	savedGreen.Println(total)
}

// PrintCacheHit logs a cache hit.
// Format: ⚡ CACHE HIT | key:xxxx...xxxx | 0ms
func PrintCacheHit(cacheKey string, latency time.Duration) {
	neonBlue.Print("⚡ CACHE HIT ")
	fmt.Print("| key:")
	mutedText.Print(maskKeyShort(cacheKey))
	fmt.Print(" | ")
	successText.Printf("%dms\n", latency.Milliseconds())
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST LOGGING
// ══════════════════════════════════════════════════════════════════════════════

// PrintRequest logs a request with styled output.
func PrintRequest(method, path string, status int, latency time.Duration, tokenUsed string) {
	mutedText.Printf("%s ", time.Now().Format("15:04:05"))

	printMethodBadge(method)
	fmt.Print(" ")

	fmt.Printf("%-30s ", truncatePath(path, 30))

	printStatusBadge(status)
	fmt.Print(" ")

	printLatency(latency)
	fmt.Print(" ")

	if tokenUsed != "" {
		mutedText.Printf("token:%s", maskKeyShort(tokenUsed))
	}

	fmt.Println()
}

func printMethodBadge(method string) {
	switch method {
	case "POST":
		methodPOST.Printf(" %s ", method)
	case "GET":
		methodGET.Printf(" %s ", method)
	case "PUT":
		methodPUT.Printf(" %s ", method)
	case "DELETE":
		methodDELETE.Printf(" %s ", method)
	default:
		debugBadge.Printf(" %s ", method)
	}
}

func printStatusBadge(status int) {
	switch {
	case status >= 200 && status < 300:
		successBadge.Printf(" %d ", status)
	case status >= 300 && status < 400:
		infoBadge.Printf(" %d ", status)
	case status >= 400 && status < 500:
		warningBadge.Printf(" %d ", status)
	default:
		errorBadge.Printf(" %d ", status)
	}
}

// printLatency prints latency with a color gradient.
// ERNIE replies are slow, so the thresholds are in seconds.
func printLatency(latency time.Duration) {
	ms := latency.Milliseconds()
	latencyStr := fmt.Sprintf("%5dms", ms)

	switch {
	case latency < time.Second:
		successText.Print(latencyStr)
	case latency < 5*time.Second:
		warningText.Print(latencyStr)
	default:
		errorText.Print(latencyStr)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// UTILITY FUNCTIONS
// ══════════════════════════════════════════════════════════════════════════════

// maskKeyShort returns a short masked version of a token.
// Format: xxxx...xxxx
func maskKeyShort(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	return path[:maxLen-3] + "..."
}

// ══════════════════════════════════════════════════════════════════════════════
// STARTUP MESSAGES
// ══════════════════════════════════════════════════════════════════════════════

// StartupInfo is what the gateway prints once the listener is ready.
type StartupInfo struct {
	Host         string
	Port         int
	APIType      string
	DefaultModel string
	ActiveTokens int
	CacheDriver  string
}

// PrintStartupInfo prints styled server startup information.
func PrintStartupInfo(info StartupInfo) {
	fmt.Println()
	infoBadge.Print("[GATEWAY]")
	fmt.Print(" Server starting on ")
	neonBlue.Printf("http://%s:%d\n", info.Host, info.Port)

	infoBadge.Print("[GATEWAY]")
	fmt.Print(" Backend: ")
	accentText.Print(info.APIType)
	fmt.Print(" | Default model: ")
	accentText.Println(info.DefaultModel)

	infoBadge.Print("[GATEWAY]")
	fmt.Print(" Pooled tokens: ")
	switch {
	case info.ActiveTokens > 0:
		successText.Printf("%d", info.ActiveTokens)
	default:
		warningText.Print("0 (key pair / global token)")
	}
	fmt.Print(" | Cache: ")
	if info.CacheDriver == "" {
		mutedText.Println("off")
	} else {
		accentText.Println(info.CacheDriver)
	}

	fmt.Println()
	printEndpoints()
}

func printEndpoints() {
	mutedText.Println("  ┌─────────────────────────────────────────────────────────┐")
	mutedText.Print("  │ ")
	methodPOST.Print(" POST ")
	fmt.Print(" /v1/chat/completions ")
	mutedText.Print("  Chat completion (OpenAI-compatible)")
	mutedText.Println(" │")

	mutedText.Print("  │ ")
	methodGET.Print(" GET  ")
	fmt.Print(" /v1/models           ")
	mutedText.Print("  List ERNIE models                ")
	mutedText.Println(" │")

	mutedText.Print("  │ ")
	methodGET.Print(" GET  ")
	fmt.Print(" /health              ")
	mutedText.Print("  Token pool, usage and cache      ")
	mutedText.Println(" │")

	mutedText.Println("  └─────────────────────────────────────────────────────────┘")
	fmt.Println()
}

// PrintShutdown prints a styled shutdown message.
func PrintShutdown() {
	fmt.Println()
	warningBadge.Print("[SHUTDOWN]")
	warningText.Println(" Graceful shutdown initiated...")
}

// PrintGoodbye prints a styled goodbye message.
func PrintGoodbye() {
	successBadge.Print(" OK ")
	fmt.Print(" ")
	successText.Println("Server stopped. Goodbye! 👋")
}
