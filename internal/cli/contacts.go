package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/lcrostarosa/safecheck/internal/cli/runner"
	"github.com/lcrostarosa/safecheck/internal/directory"
)

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Manage emergency contacts",
	Long: `Emergency contacts receive an alert when a check-in timer runs out.
A running daemon picks up changes on restart.`,
}

var contactsAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Add or update an emergency contact",
	Args:  cobra.ExactArgs(1),
	RunE:  runners.Profile().Wrap(runContactsAdd),
}

var contactsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an emergency contact",
	Args:  cobra.ExactArgs(1),
	RunE:  runners.Profile().Wrap(runContactsRemove),
}

var contactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List emergency contacts",
	RunE:  runners.Profile().Wrap(runContactsList),
}

func init() {
	f := contactsAddCmd.Flags()
	f.String("name", "", "Display name (required)")
	f.String("image", "", "Avatar URL")

	contactsCmd.AddCommand(contactsAddCmd, contactsRemoveCmd, contactsListCmd)
	rootCmd.AddCommand(contactsCmd)
}

func runContactsAdd(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	flags := runner.Flags(cmd)
	name := flags.String("name")
	image := flags.String("image")
	if err := flags.Err(); err != nil {
		return err
	}
	if name == "" {
		return errors.New("--name is required")
	}

	contact := directory.Contact{ID: args[0], DisplayName: name, ImageURL: image}
	if err := ctx.Config.AddContact(contact); err != nil {
		return err
	}
	PrintSuccess("Contact %s (%s) saved", name, contact.ID)
	return nil
}

func runContactsRemove(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	if err := ctx.Config.RemoveContact(args[0]); err != nil {
		return err
	}
	PrintSuccess("Contact %s removed", args[0])
	return nil
}

func runContactsList(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	contacts := ctx.Config.Contacts
	if len(contacts) == 0 {
		PrintWarning("No emergency contacts configured.")
		PrintInfo("Add one with: safecheck contacts add <id> --name <name>")
		return nil
	}

	PrintHeader("👥 Emergency Contacts")
	for _, c := range contacts {
		PrintInfo("  %-20s %s", c.ID, c.DisplayName)
	}
	return nil
}
