// Package tui provides the terminal monitor for live tag scan values.
package tui

import "github.com/gdamore/tcell/v2"

// Color scheme
var (
	ColorPrimary    = tcell.ColorBlue
	ColorAccent     = tcell.ColorYellow
	ColorError      = tcell.ColorRed
	ColorConnected  = tcell.ColorGreen
	ColorDisconnect = tcell.ColorGray
	ColorText       = tcell.ColorWhite
)

// Status indicator strings
const (
	StatusIndicatorConnected    = "[green]●[-]"
	StatusIndicatorDisconnected = "[gray]○[-]"
)

// HelpText is shown on '?'.
const HelpText = `
 Keyboard Shortcuts
 ──────────────────────────────────────

 Navigation
   Tab / Shift+Tab   Move between PLC list and tag table
   Enter             Select tag for write
   Escape            Close dialog / cancel write
   ?                 Show this help
   Q                 Quit
`
