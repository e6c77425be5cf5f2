// Package device derives the device descriptor stored on a session from a User-Agent header.
package device

import (
	"strings"

	"github.com/mssola/useragent"
)

// Unknown is used when a field cannot be derived from the User-Agent.
const Unknown = "Unknown"

// Info describes the client that created a session.
type Info struct {
	UserAgent string `json:"userAgent"`
	Browser   string `json:"browser"`
	OS        string `json:"os"`
}

// Parse builds Info from a raw User-Agent. An empty or unparseable header yields
// Unknown for browser and OS.
func Parse(raw string) Info {
	raw = strings.TrimSpace(raw)
	info := Info{UserAgent: raw, Browser: Unknown, OS: Unknown}
	if raw == "" {
		info.UserAgent = Unknown
		return info
	}
	ua := useragent.New(raw)
	if name, version := ua.Browser(); name != "" {
		info.Browser = strings.TrimSpace(name + " " + version)
	}
	if os := ua.OSInfo(); os.Name != "" {
		info.OS = strings.TrimSpace(os.Name + " " + os.Version)
	}
	return info
}
