// Command server runs the videotube user API and its maintenance commands.
//
//	server                 start the HTTP server (same as "server serve")
//	server migrate         create or upgrade the SQLite schema and exit
//	server seed --file f   load YAML fixtures into the database
//
// Every command reads the same configuration: defaults, then --config (YAML),
// then .env, then the environment.
package main

func main() {
	Execute()
}
