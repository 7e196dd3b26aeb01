package classify

import "grimm.is/ztinspect/internal/policy"

var baseRisk = map[policy.DeviceType]float64{
	policy.DeviceRouter:   0.5,
	policy.DeviceComputer: 0.3,
	policy.DevicePhone:    0.3,
	policy.DeviceTablet:   0.3,
	policy.DeviceIoT:      0.6,
	policy.DevicePrinter:  0.4,
	policy.DeviceCamera:   0.7,
	policy.DeviceServer:   0.4,
	policy.DeviceUnknown:  0.5,
}

// Cleartext or commonly exploited remote-access services.
var riskyPorts = map[int]float64{
	21:   0.1, // ftp
	23:   0.2, // telnet
	445:  0.1, // smb
	3389: 0.1,
	5900: 0.1, // vnc
}

// RiskScore rates d in [0,1] from its type, exposed services and whether its
// vendor is known.
func RiskScore(d *policy.Device) float64 {
	score, ok := baseRisk[d.Type]
	if !ok {
		score = baseRisk[policy.DeviceUnknown]
	}
	for _, p := range d.OpenPorts {
		score += riskyPorts[p]
	}
	if d.Vendor == "" || d.Vendor == RandomMAC {
		score += 0.05
	}
	return min(max(score, 0), 1)
}
