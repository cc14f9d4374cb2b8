package config

// Default returns the operational configuration. Loaded YAML is decoded
// over it, so a file only needs the settings it changes.
func Default() *Config {
	return &Config{
		Retention: Retention{
			MaxLookbackDays:      1,
			MaxModelLookbackDays: 3,
			MaxLookaheadDays:     1,
			MaxEnsembleLeadHours: 36,
		},
		Paths: Paths{
			Workspace:        "${DATA}/EpochOps/workspace",
			Data:             "${DATA}/EpochOps",
			Output:           "${COMOUT_ROOT}/epoch.{ymd}/{hh}",
			Exec:             "${HOMEepoch}/exec",
			Parms:            "${HOMEepoch}/parm",
			Logs:             "${DATA}/logs",
			SeedLookbackDays: 30,
		},
		Repopulate: Repopulate{
			Enabled: true,
			Trees: []RepopulateTree{
				{From: "${COMOUT_ROOT}/epoch.{ymd}/*/spdb", To: "spdb", Days: 30},
				{From: "${COMOUT_ROOT}/epoch.{ymd}/*/mdv", To: "mdv", Days: 3},
			},
		},
		CMORPH: CMORPH{
			Source: Source{
				Dirs:    []string{"${COMINcmorph2}/{ymd}/cmorph2"},
				Pattern: `CMORPH2_0\.25deg-30min_S(?P<ymd>\d{8})(?P<hour>\d{2})(?P<minute>\d{2})_E\d{12}\.RT\.nc$`,
			},
			FrequencyMinutes: 30,
			DelayHours:       0,
			MaxLatencyHours:  24,
			Convert:          Command{App: "NetCDF2Mdv", Instance: "cmorph2_25", Args: ArgsFile},
			Average: []Command{
				{App: "CmorphAverager", Instance: "default", Args: ArgsWindow},
				{App: "ObarCompute", Instance: "cmorph23Hr", Args: ArgsInterval},
			},
		},
		GFS: GFS{
			MemberA: Source{
				Dirs:    []string{"${COMINgfs}/gfs.{ymd}/{hh}/atmos"},
				Pattern: `gfs\.(?P<ymd>\d{8})/(?P<hour>\d{2})/atmos/gfs\.t\d{2}z\.pgrb2\.0p25\.f(?P<lead>\d{3})$`,
			},
			MemberB: Source{
				Dirs:    []string{"${COMINgfs}/gfs.{ymd}/{hh}/atmos"},
				Pattern: `gfs\.(?P<ymd>\d{8})/(?P<hour>\d{2})/atmos/gfs\.t\d{2}z\.pgrb2b\.0p25\.f(?P<lead>\d{3})$`,
			},
			LeadHours: []int{0, 3, 6, 9, 12},
			ConvertA:  Command{App: "Grib2toMdv", Instance: "gfs_0.25a", Args: ArgsFile},
			ConvertB:  Command{App: "Grib2toMdv", Instance: "gfs_0.25b", Args: ArgsFile},
			Merge: []Command{
				{App: "MdvMerge2", Instance: "gfs_0.25", Args: ArgsStartEnd},
			},
			Preserve: []string{"mdv/model/gfs_0.25b/{ymd}/g_{hh}0000"},
		},
		LIR: LIR{
			Source: Source{
				Dirs:    []string{"${COMINglobcomp}/{ymd}/globcomp_nc"},
				Pattern: `GLOBCOMPLIR_nc\.(?P<ymd>\d{8})(?P<hour>\d{2})$`,
			},
			PerHour: []Command{
				{App: "GmgsiNcf2Mdv", Instance: "globcompLir", Args: ArgsFile},
				{App: "MdvThresh", Instance: "globcomp_ir", Args: ArgsInterval},
				{App: "CloudHt", Instance: "NESDIS2020.3D_hgtTemp", Args: ArgsStartEnd},
				{App: "CloudHt", Instance: "NESDIS2020.gfsTrop", Args: ArgsStartEnd},
				{App: "MdvMerge2", Instance: "NESDIS2020_cloudHt_pc", Args: ArgsStartEnd},
			},
			Final: []Command{
				{App: "MdvTComp", Instance: "globcomp_CTH_3hr", Args: ArgsStartEnd},
				{App: "MdvResample", Instance: "globcomp_CTH_3hr_0.5deg", Args: ArgsStartEnd},
				{App: "ObarCompute", Instance: "cth", Args: ArgsInterval},
			},
		},
		Ensembles: Ensembles{
			A: defaultEnsemble("CMCE", "cmce",
				"${COMINcmce}/cmce.{ymd}/{hh}/pgrb2ap5",
				`cmce\.(?P<ymd>\d{8})/(?P<hour>\d{2})/pgrb2ap5/cmc_(?P<member>gep(?P<num>\d{2}))\.[^/]*\.f(?P<lead>\d{3})$`,
				[]string{"gespr", "cmc_geavg", "cmc_gec"}, true),
			B: defaultEnsemble("GEFS", "gefs",
				"${COMINgefs}/gefs.{ymd}/{hh}/atmos/pgrb2ap5",
				`gefs\.(?P<ymd>\d{8})/(?P<hour>\d{2})/atmos/pgrb2ap5/(?P<member>gep(?P<num>\d{2}))\.[^/]*\.f(?P<lead>\d{3})$`,
				[]string{"gec"}, false),
		},
		Combine: Combine{
			Commands: []Command{
				{App: "EnsFcstComb", Instance: "epochOpt", Args: ArgsInterval},
				{App: "EnsFcstComb", Instance: "epochCtopOpt", Args: ArgsInterval},
				{App: "MdvtoGrib2", Instance: "epochOpt", Args: ArgsStartEnd},
				{App: "MdvtoGrib2", Instance: "epochCCT30", Args: ArgsStartEnd},
				{App: "MdvtoGrib2", Instance: "epochCCT35", Args: ArgsStartEnd},
				{App: "MdvtoGrib2", Instance: "epochCCT40", Args: ArgsStartEnd},
			},
			Products: []string{"grib2/epoch.t{hh}z.*.grib2"},
		},
		Log: Log{Level: "info", Format: "json"},
	}
}

func defaultEnsemble(name, lower, dir, pattern string, exclude []string, publishLookups bool) Ensemble {
	e := Ensemble{
		Source:          Source{Dirs: []string{dir}, Pattern: pattern, Exclude: exclude},
		MinLead:         0,
		MaxLead:         58,
		Convert:         Command{App: "Grib2toMdv", Instance: lower, Args: ArgsFile},
		Accumulate:      []Command{{App: "PrecipAccumCalc", Instance: lower, Args: ArgsInterval}},
		LookupPrimary:   []Command{{App: "EnsLookupGen", Instance: name, Args: ArgsInterval}},
		LookupSecondary: []Command{{App: "EnsLookupGen", Instance: name + "-cloudtop", Args: ArgsInterval}},
		Probability:     []Command{{App: "PbarCompute", Instance: name, Args: ArgsInterval}},
		Thresholds: []Command{
			{App: "ThreshFromObarPbar", Instance: name, Args: ArgsInterval},
			{App: "ThreshHist", Instance: name, Args: ArgsInterval},
			{App: "ThreshHist", Instance: name + "-cloudtop", Args: ArgsInterval},
		},
		Preserve: map[string][]string{
			"CONVERT":    {"mdv/model/" + lower + "/*/{ymd}/g_{hh}0000"},
			"ACCUMULATE": {"mdv/model/" + lower + "3hr/3hrAccum/*/{ymd}/g_{hh}0000"},
		},
	}
	// COMBINE reads earlier cycles' CMCE lookup output back from the
	// published tree.
	if publishLookups {
		e.Publish = map[string][]string{
			"LOOKUP-GEN-PRIMARY":   {"mdv/model/" + lower + "ProbOpt/{ymd}/g_{hh}0000"},
			"LOOKUP-GEN-SECONDARY": {"mdv/model/" + lower + "ProbCloudTopOpt/{ymd}/g_{hh}0000"},
		}
	}
	return e
}
