package housekeeper

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/login-portal/internal/business"
	"github.com/openkcm/login-portal/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"housekeeper",
		"Login Portal Housekeeping job",
		"Login Portal Housekeeping job removes expired and idle sessions.",
		buildInfo,
		cmdutils.RunAsService,
		business.HousekeeperMain,
	)
}
