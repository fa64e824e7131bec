package server

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/login-portal/internal/business"
	"github.com/openkcm/login-portal/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"server",
		"Login Portal server",
		"Login Portal server hosts the sign-in views and the session endpoints",
		buildInfo,
		cmdutils.RunAsService,
		business.Main,
	)
}
