package score

// weightedTerm is one curated threat keyword with its score weight and
// the risk domain it maps to.
type weightedTerm struct {
	term   string
	weight int
	domain string
}

// Risk-domain tags, in the fixed order they are reported.
const (
	domainArmedConflict = "armed-conflict"
	domainTerrorism     = "terrorism"
	domainCyber         = "cyber"
	domainUnrest        = "civil-unrest"
	domainInfra         = "infrastructure"
	domainHazard        = "hazard"
)

var domainOrder = []string{
	domainArmedConflict, domainTerrorism, domainCyber,
	domainUnrest, domainInfra, domainHazard,
}

var threatKeywords = []weightedTerm{
	{"airstrike", 10, domainArmedConflict},
	{"missile strike", 10, domainArmedConflict},
	{"shelling", 9, domainArmedConflict},
	{"missile", 8, domainArmedConflict},
	{"artillery", 8, domainArmedConflict},
	{"invasion", 9, domainArmedConflict},
	{"armed clash", 8, domainArmedConflict},
	{"offensive", 6, domainArmedConflict},
	{"militant", 6, domainArmedConflict},
	{"insurgent", 6, domainArmedConflict},

	{"bombing", 10, domainTerrorism},
	{"explosion", 9, domainTerrorism},
	{"explosive", 8, domainTerrorism},
	{"suicide bomber", 10, domainTerrorism},
	{"hostage", 9, domainTerrorism},
	{"kidnapping", 8, domainTerrorism},
	{"shooting", 8, domainTerrorism},
	{"gunfire", 7, domainTerrorism},
	{"attack", 6, domainTerrorism},

	{"cyberattack", 9, domainCyber},
	{"ransomware", 9, domainCyber},
	{"data breach", 7, domainCyber},
	{"malware", 7, domainCyber},
	{"ddos", 6, domainCyber},
	{"phishing campaign", 5, domainCyber},

	{"riot", 7, domainUnrest},
	{"looting", 6, domainUnrest},
	{"violent protest", 7, domainUnrest},
	{"curfew", 5, domainUnrest},
	{"unrest", 5, domainUnrest},

	{"derailment", 7, domainHazard},
	{"toxic leak", 8, domainHazard},
	{"wildfire", 6, domainHazard},
	{"earthquake", 6, domainHazard},
	{"flooding", 5, domainHazard},
}

// High-signal trigger phrases: 5 points each, capped.
var triggerPhrases = []string{
	"mass shooting",
	"suicide bombing",
	"car bomb",
	"chemical attack",
	"state of emergency",
	"martial law",
	"evacuation ordered",
	"declared war",
	"coup attempt",
	"hostage situation",
	"grid failure",
	"active shooter",
}

// Catastrophic-severity terms: mass-casualty and critical-infrastructure
// vocabulary, 5 points each, capped.
var severityTerms = []string{
	"mass casualties",
	"hundreds dead",
	"dozens killed",
	"death toll",
	"nuclear",
	"chemical weapons",
	"biological agent",
	"dirty bomb",
	"critical infrastructure",
	"power grid",
}

// Infrastructure/mobility terms for the conservative +3 nudge when they
// co-occur with a primary threat term.
var infraTerms = []string{
	"airport",
	"pipeline",
	"railway",
	"seaport",
	"hospital",
	"refinery",
	"bridge",
	"power plant",
	"water supply",
	"highway",
}
