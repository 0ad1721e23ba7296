// Package lua loads Polaris plugins written as Lua scripts.
//
// A script <dir>/<name>.lua declares its triggers in a global table and
// defines any of the optional hook functions:
//
//	description = "Echo things back"
//	commands = {
//		{ pattern = "/echo", parameters = { "text" }, description = "Repeat text" },
//		"/shout",
//	}
//
//	function run(msg, match)
//		polaris.reply(msg.input)
//	end
//
//	function process(msg) end
//	function inline(msg, match) end
//	function cron() end
//
// The polaris module exposes reply, send, prefix, me, log, load and save.
// Scripts run sandboxed: only the base, table, string and math libraries
// are available, dofile/loadfile/load/require are removed and every call
// is bounded by a timeout.
package lua
