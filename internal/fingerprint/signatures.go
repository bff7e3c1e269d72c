package fingerprint

// Signature describes the observable attributes of one device class.
type Signature struct {
	Key         string
	Vendor      string
	DeviceType  string
	RiskLevel   string
	MACPrefixes []string
	Ports       []int
	Services    []string
	UserAgents  []string
}

// DefaultSignatures returns the built-in table. Order matters: the matcher
// returns the first signature that reaches the match threshold.
func DefaultSignatures() []Signature {
	out := make([]Signature, len(builtinSignatures))
	copy(out, builtinSignatures)
	return out
}

var builtinSignatures = []Signature{
	{Key: "amazon_echo", Vendor: "Amazon", DeviceType: "Smart Speaker", RiskLevel: "Low",
		MACPrefixes: []string{"F0:27:2D", "74:C2:46", "68:37:E9"}, Ports: []int{4070, 55442, 443},
		Services: []string{"Alexa", "Amazon"}, UserAgents: []string{"Alexa", "Amazon"}},
	{Key: "google_home", Vendor: "Google", DeviceType: "Smart Speaker", RiskLevel: "Low",
		MACPrefixes: []string{"E4:3E:D7", "94:EB:2C", "A4:77:33"}, Ports: []int{8009, 8443, 443},
		Services: []string{"Google Home", "Chromecast"}, UserAgents: []string{"GoogleHome", "Chromecast"}},
	{Key: "nest_thermostat", Vendor: "Google", DeviceType: "Smart Thermostat", RiskLevel: "Medium",
		MACPrefixes: []string{"18:B4:30", "64:BC:0C"}, Ports: []int{9553, 443},
		Services: []string{"Nest", "Google"}, UserAgents: []string{"Nest"}},
	{Key: "philips_hue", Vendor: "Philips", DeviceType: "Smart Lighting", RiskLevel: "Low",
		MACPrefixes: []string{"00:17:88", "EC:B5:FA"}, Ports: []int{80, 443, 2100},
		Services: []string{"Philips Hue"}, UserAgents: []string{"Hue"}},
	{Key: "ring_doorbell", Vendor: "Ring", DeviceType: "Smart Doorbell", RiskLevel: "High",
		MACPrefixes: []string{"18:83:BF", "F0:EF:86"}, Ports: []int{80, 443, 9999},
		Services: []string{"Ring"}, UserAgents: []string{"Ring"}},
	{Key: "arlo_camera", Vendor: "Arlo", DeviceType: "Security Camera", RiskLevel: "High",
		MACPrefixes: []string{"34:6F:90", "B4:2E:99"}, Ports: []int{80, 443, 1025},
		Services: []string{"Arlo"}, UserAgents: []string{"Arlo"}},
	{Key: "tplink_smart_plug", Vendor: "TP-Link", DeviceType: "Smart Plug", RiskLevel: "Medium",
		MACPrefixes: []string{"50:C7:BF", "B0:95:75"}, Ports: []int{80, 443, 9999},
		Services: []string{"TP-Link", "Kasa"}, UserAgents: []string{"TP-Link"}},
	{Key: "samsung_smart_tv", Vendor: "Samsung", DeviceType: "Smart TV", RiskLevel: "Medium",
		MACPrefixes: []string{"8C:79:67", "08:08:C2"}, Ports: []int{80, 443, 8001, 9080},
		Services: []string{"Samsung", "SmartTV"}, UserAgents: []string{"Samsung", "SmartTV"}},
	{Key: "roku_streaming", Vendor: "Roku", DeviceType: "Streaming Device", RiskLevel: "Low",
		MACPrefixes: []string{"B8:27:EB", "DC:3A:5E"}, Ports: []int{8060, 80, 443},
		Services: []string{"Roku"}, UserAgents: []string{"Roku"}},
	{Key: "xiaomi_devices", Vendor: "Xiaomi", DeviceType: "Smart Home Hub", RiskLevel: "Medium",
		MACPrefixes: []string{"28:6C:07", "7C:49:EB"}, Ports: []int{80, 443, 9898},
		Services: []string{"Xiaomi", "MiHome"}, UserAgents: []string{"Xiaomi"}},
	{Key: "sonos_speaker", Vendor: "Sonos", DeviceType: "Smart Speaker", RiskLevel: "Low",
		MACPrefixes: []string{"B8:E9:37", "78:28:CA"}, Ports: []int{1400, 1443, 4444},
		Services: []string{"Sonos"}, UserAgents: []string{"Sonos"}},
	{Key: "lifx_bulb", Vendor: "LIFX", DeviceType: "Smart Bulb", RiskLevel: "Low",
		MACPrefixes: []string{"D0:73:D5"}, Ports: []int{56700},
		Services: []string{"LIFX"}, UserAgents: []string{"LIFX"}},
	{Key: "wemo_switch", Vendor: "Belkin", DeviceType: "Smart Switch", RiskLevel: "Medium",
		MACPrefixes: []string{"14:91:82", "EC:1A:59"}, Ports: []int{49153, 49154},
		Services: []string{"WeMo"}, UserAgents: []string{"WeMo"}},
	{Key: "netatmo_weather", Vendor: "Netatmo", DeviceType: "Weather Station", RiskLevel: "Medium",
		MACPrefixes: []string{"70:EE:50"}, Ports: []int{80, 443, 8080},
		Services: []string{"Netatmo"}, UserAgents: []string{"Netatmo"}},
	{Key: "hive_thermostat", Vendor: "Hive", DeviceType: "Smart Thermostat", RiskLevel: "Medium",
		MACPrefixes: []string{"00:0D:4B"}, Ports: []int{80, 443, 8883},
		Services: []string{"Hive"}, UserAgents: []string{"Hive"}},
	{Key: "logitech_harmony", Vendor: "Logitech", DeviceType: "Universal Remote", RiskLevel: "Low",
		MACPrefixes: []string{"00:04:20"}, Ports: []int{5222, 5223, 8088},
		Services: []string{"Logitech", "Harmony"}, UserAgents: []string{"Harmony"}},
	{Key: "blink_camera", Vendor: "Blink", DeviceType: "Security Camera", RiskLevel: "High",
		MACPrefixes: []string{"00:03:7F"}, Ports: []int{80, 443, 8443},
		Services: []string{"Blink"}, UserAgents: []string{"Blink"}},
	{Key: "ecobee_thermostat", Vendor: "ecobee", DeviceType: "Smart Thermostat", RiskLevel: "Medium",
		MACPrefixes: []string{"44:61:32"}, Ports: []int{80, 443, 8089},
		Services: []string{"ecobee"}, UserAgents: []string{"ecobee"}},
	{Key: "august_lock", Vendor: "August", DeviceType: "Smart Lock", RiskLevel: "High",
		MACPrefixes: []string{"C0:97:27"}, Ports: []int{80, 443, 2856},
		Services: []string{"August"}, UserAgents: []string{"August"}},
	{Key: "kwikset_lock", Vendor: "Kwikset", DeviceType: "Smart Lock", RiskLevel: "High",
		MACPrefixes: []string{"00:24:E4"}, Ports: []int{80, 443, 8883},
		Services: []string{"Kwikset"}, UserAgents: []string{"Kwikset"}},
	{Key: "schlage_lock", Vendor: "Schlage", DeviceType: "Smart Lock", RiskLevel: "High",
		MACPrefixes: []string{"00:1F:84"}, Ports: []int{80, 443, 8080},
		Services: []string{"Schlage"}, UserAgents: []string{"Schlage"}},
	{Key: "wyze_camera", Vendor: "Wyze", DeviceType: "Security Camera", RiskLevel: "High",
		MACPrefixes: []string{"2C:AA:8E"}, Ports: []int{80, 443, 8554},
		Services: []string{"Wyze"}, UserAgents: []string{"Wyze"}},
	{Key: "eufy_security", Vendor: "eufy", DeviceType: "Security System", RiskLevel: "High",
		MACPrefixes: []string{"50:14:79"}, Ports: []int{80, 443, 10000},
		Services: []string{"eufy"}, UserAgents: []string{"eufy"}},
	{Key: "simplisafe", Vendor: "SimpliSafe", DeviceType: "Security System", RiskLevel: "High",
		MACPrefixes: []string{"00:1B:C5"}, Ports: []int{80, 443, 993},
		Services: []string{"SimpliSafe"}, UserAgents: []string{"SimpliSafe"}},
	{Key: "unifi_camera", Vendor: "Ubiquiti", DeviceType: "Security Camera", RiskLevel: "High",
		MACPrefixes: []string{"24:A4:3C", "44:D9:E7"}, Ports: []int{80, 443, 7080, 7443},
		Services: []string{"UniFi", "Ubiquiti"}, UserAgents: []string{"UniFi"}},
	{Key: "reolink_camera", Vendor: "Reolink", DeviceType: "Security Camera", RiskLevel: "High",
		MACPrefixes: []string{"EC:71:DB"}, Ports: []int{80, 443, 1935},
		Services: []string{"Reolink"}, UserAgents: []string{"Reolink"}},
	{Key: "amcrest_camera", Vendor: "Amcrest", DeviceType: "Security Camera", RiskLevel: "High",
		MACPrefixes: []string{"00:12:16"}, Ports: []int{80, 443, 37777},
		Services: []string{"Amcrest"}, UserAgents: []string{"Amcrest"}},
	{Key: "hikvision_camera", Vendor: "Hikvision", DeviceType: "Security Camera", RiskLevel: "High",
		MACPrefixes: []string{"00:18:82", "28:57:BE"}, Ports: []int{80, 443, 554, 8000},
		Services: []string{"Hikvision"}, UserAgents: []string{"Hikvision"}},
	{Key: "dahua_camera", Vendor: "Dahua", DeviceType: "Security Camera", RiskLevel: "High",
		MACPrefixes: []string{"90:02:A9", "1C:BD:B9"}, Ports: []int{80, 443, 37777},
		Services: []string{"Dahua"}, UserAgents: []string{"Dahua"}},
	{Key: "foscam_camera", Vendor: "Foscam", DeviceType: "Security Camera", RiskLevel: "High",
		MACPrefixes: []string{"00:0F:B5"}, Ports: []int{80, 443, 88},
		Services: []string{"Foscam"}, UserAgents: []string{"Foscam"}},
	{Key: "dlink_camera", Vendor: "D-Link", DeviceType: "Security Camera", RiskLevel: "High",
		MACPrefixes: []string{"00:05:5D", "00:0D:88"}, Ports: []int{80, 443, 554},
		Services: []string{"D-Link"}, UserAgents: []string{"D-Link"}},
	{Key: "axis_camera", Vendor: "Axis", DeviceType: "Security Camera", RiskLevel: "High",
		MACPrefixes: []string{"00:40:8C", "AC:CC:8E"}, Ports: []int{80, 443, 554},
		Services: []string{"AXIS"}, UserAgents: []string{"AXIS"}},
}
