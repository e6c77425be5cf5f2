// sessionctl inspects and revokes user sessions from the command line, against the same
// Postgres and Redis the server uses.
package main

import "taskboard-auth/backend/cmd/sessionctl/cmd"

func main() {
	cmd.Execute()
}
