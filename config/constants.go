package config

const (
	// Regionalstatistik (Statistische Ämter des Bundes und der Länder) constants.
	RegionalstatistikBaseURL = "https://www.regionalstatistik.de/genesisws/rest/2020"
	RegionalstatistikLabel   = "Regionaldatenbank Deutschland"

	// GENESIS-Online (Statistisches Bundesamt) constants.
	GenesisBaseURL = "https://www-genesis.destatis.de/genesisWS/rest/2020"
	GenesisLabel   = "GENESIS-Online"

	// Landesdatenbank NRW (IT.NRW) constants.
	NRWBaseURL = "https://www.landesdatenbank.nrw.de/ldbnrwws/rest/2020"
	NRWLabel   = "Landesdatenbank NRW"

	// Default must-have regions: the five largest Ruhr cities.
	RegionCodeDuisburg      = "05112"
	RegionCodeEssen         = "05113"
	RegionCodeBochum        = "05911"
	RegionCodeDortmund      = "05913"
	RegionCodeGelsenkirchen = "05513"
)

// DefaultMustHaveRegions is the region set every indicator must cover to be usable.
var DefaultMustHaveRegions = []string{
	RegionCodeDuisburg,
	RegionCodeEssen,
	RegionCodeBochum,
	RegionCodeDortmund,
	RegionCodeGelsenkirchen,
}
