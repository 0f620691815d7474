package fingerprint

import "github.com/mileusna/useragent"

// Device is a human-readable summary of a User-Agent string.
type Device struct {
	Browser string `json:"browser"`
	OS      string `json:"os"`
	Type    string `json:"type"`
	Name    string `json:"name"`
}

func Describe(userAgent string) Device {
	if userAgent == "" {
		return Device{Browser: "Unknown Browser", OS: "Unknown OS", Type: "Unknown", Name: "Unknown Device"}
	}

	ua := useragent.Parse(userAgent)

	device := Device{
		Browser: joinVersion(ua.Name, ua.Version, "Unknown Browser"),
		OS:      joinVersion(ua.OS, ua.OSVersion, "Unknown OS"),
	}

	switch {
	case ua.Bot:
		device.Type = "Bot"
	case ua.Mobile:
		device.Type = "Mobile"
	case ua.Tablet:
		device.Type = "Tablet"
	default:
		device.Type = "Desktop"
	}

	switch {
	case ua.Device != "":
		device.Name = ua.Device
	case ua.Mobile:
		device.Name = "Mobile Device"
	case ua.Tablet:
		device.Name = "Tablet"
	default:
		device.Name = "Desktop Computer"
	}

	return device
}

func joinVersion(name, version, fallback string) string {
	switch {
	case name == "":
		return fallback
	case version == "":
		return name
	default:
		return name + " " + version
	}
}
