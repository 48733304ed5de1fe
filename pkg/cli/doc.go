/*
Package cli provides command-line helpers for the costplane command.

Output Formatting:

Commands print results as text tables, JSON or CSV:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, status); err != nil {
		return err
	}

Values implementing Table are rendered as aligned columns by the text
formatter and as rows by the CSV formatter; anything else is printed with
%v (text) or rejected (CSV).

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

Exit Codes:

ExitCode maps errors returned by commands to process exit codes:
configuration problems exit with 2, everything else with 1.
*/
package cli
