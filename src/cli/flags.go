package cli

func (c *RootCommand) initFlags() {
	c.PersistentFlags().StringVarP(
		&c.Options.ConfigPath,
		"config",
		"c",
		"",
		"Path to a .env file with RELCORE_* settings",
	)
	c.PersistentFlags().StringVar(
		&c.Options.DataDir,
		"data-dir",
		"",
		"Directory with relation files, overrides RELCORE_DATA_DIR",
	)
}
