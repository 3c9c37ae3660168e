// Package netlog provides the stack's structured logging: one
// charmbracelet/log logger per named component (phy, mac, ipbroker,
// gateway, tcp), replacing the old text_color_set/dw_printf
// pairing with leveled, prefixed output.
package netlog

import (
	"os"

	"github.com/charmbracelet/log"
)

var base = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	TimeFormat:      "15:04:05.000",
})

// For returns a child logger prefixed with component, e.g. netlog.For("mac").
func For(component string) *log.Logger {
	return base.WithPrefix(component)
}

// SetLevel adjusts the verbosity of every logger returned by For, matching
// a CLI's -v/-q handling.
func SetLevel(level log.Level) {
	base.SetLevel(level)
}
