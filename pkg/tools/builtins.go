package tools

// BuiltinConfig carries what the stock tools need from the outside.
type BuiltinConfig struct {
	Twilio             TwilioConfig
	ReminderUserNumber string
}

// RegisterBuiltins wires the stock tool set into a registry.
func RegisterBuiltins(r *Registry, cfg BuiltinConfig) {
	weather := NewWeatherTool()
	r.Register(weather.Definition(), weather.Handle)

	openApp := OpenAppTool{}
	r.Register(openApp.Definition(), openApp.Handle)

	openURL := OpenURLTool{}
	r.Register(openURL.Definition(), openURL.Handle)

	search := WebSearchTool{}
	r.Register(search.Definition(), search.Handle)

	if cfg.Twilio.AccountSID != "" {
		sms := NewSMSTool(cfg.Twilio)
		r.Register(sms.Definition(), sms.Handle)

		reminder := NewReminderTool(sms, cfg.ReminderUserNumber)
		r.Register(reminder.Definition(), reminder.Handle)
	}
}
