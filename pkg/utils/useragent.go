package utils

import (
	"fmt"
	"strings"

	"github.com/avct/uasurfer"
)

type UserAgentInfo struct {
	Device  string `json:"device"`
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Locale  string `json:"locale,omitempty"`
	Bot     bool   `json:"bot"`
}

var deviceNames = map[uasurfer.DeviceType]string{
	uasurfer.DeviceComputer: "Computer",
	uasurfer.DeviceTablet:   "Tablet",
	uasurfer.DevicePhone:    "Phone",
	uasurfer.DeviceConsole:  "Console",
	uasurfer.DeviceWearable: "Wearable",
	uasurfer.DeviceTV:       "TV",
}

func ParseUserAgent(uaString string, acceptLanguage string) UserAgentInfo {
	ua := uasurfer.Parse(uaString)

	device, ok := deviceNames[ua.DeviceType]
	if !ok {
		device = "Unknown"
	}

	os := fmt.Sprintf("%s %d.%d",
		strings.TrimPrefix(ua.OS.Name.String(), "OS"), ua.OS.Version.Major, ua.OS.Version.Minor)
	browser := fmt.Sprintf("%s %d.%d",
		strings.TrimPrefix(ua.Browser.Name.String(), "Browser"), ua.Browser.Version.Major, ua.Browser.Version.Minor)

	locale := acceptLanguage
	if i := strings.IndexByte(locale, ','); i >= 0 {
		locale = locale[:i]
	}
	if i := strings.IndexByte(locale, ';'); i >= 0 {
		locale = locale[:i]
	}

	return UserAgentInfo{
		Device:  device,
		OS:      os,
		Browser: browser,
		Locale:  strings.TrimSpace(locale),
		Bot:     ua.IsBot(),
	}
}
