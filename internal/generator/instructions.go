package generator

import "strings"

var instructions = map[Platform]string{
	OpenWrt: `
1. Copy the generated configuration.
2. Log in to the router over SSH (usually root@192.168.1.1).
3. Append the zone and rule blocks to /etc/config/firewall.
4. Bind each zone to its network with "option network" or keep the subnet lists.
5. Check the result: uci show firewall
6. Apply: /etc/init.d/firewall reload
`,
	Windows: `
1. Save the script as a .ps1 file.
2. Start PowerShell as Administrator.
3. Change to the script directory: cd C:\path\to\script
4. Allow local scripts: Set-ExecutionPolicy -ExecutionPolicy RemoteSigned -Scope CurrentUser
5. Run the script: .\script.ps1
6. Verify: Get-NetFirewallRule -Group ZeroTrust
`,
	IPTables: `
1. Save the script as a .sh file.
2. Make it executable: chmod +x script.sh
3. Run it as root: sudo ./script.sh
4. Persist the rules across reboots:
   - Debian/Ubuntu: iptables-save > /etc/iptables/rules.v4
   - CentOS/RHEL: service iptables save
`,
	MikroTik: `
1. Save the script as a .rsc file.
2. Upload it to the router (Winbox Files, or scp file.rsc admin@router:).
3. Import it from the terminal: /import file-name=file.rsc
4. Verify: /ip firewall filter print where comment~"ZeroTrust"
5. Order the new filter rules above any broad accept rules in the forward chain.
`,
	ASUSWRT: `
1. Enable custom scripts: Administration > System > Enable JFFS custom scripts and configs.
2. Copy the script to /jffs/scripts/firewall-start on the router.
3. Make it executable: chmod a+rx /jffs/scripts/firewall-start
4. Restart the firewall: service restart_firewall
5. Verify: iptables -L FORWARD -n --line-numbers
`,
	PfSense: `
1. Back up the current configuration: Diagnostics > Backup & Restore.
2. Merge the <aliases> and <filter> sections into the downloaded config.xml.
3. Change <interface>lan</interface> where the source zone lives on another interface.
4. Restore the merged config.xml (Restore area: Firewall Rules, then Aliases).
5. Review Firewall > Rules and apply the changes.
`,
}

// Instructions returns the manual steps for applying an export on platform.
// They are documentation only.
func Instructions(platform string) (string, error) {
	p, err := ParsePlatform(platform)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(instructions[p]) + "\n", nil
}
