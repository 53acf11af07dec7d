// Package addon loads optional behavior bundles listed in the addon manifest and composes
// their operations onto the running server.
//
// A bundle is anything that exposes a set of named operations. Bundles come from two
// places:
//
//   - compiled-in modules registered with Register from an init function, selected by a
//     manifest entry that has a module but no path;
//   - script artifacts stored under the configuration directory: JavaScript files run by
//     goja and Lua files run by a sandboxed gopher-lua state. The manifest module names a
//     global object, class or table in the script, and every function reachable from it
//     (own fields, class and prototype methods, Lua __index tables) becomes an operation.
//     A module with no functions is rejected.
//
// Example manifest (addons.yml):
//
//	order_stats:
//	  module: OrderStats
//	fee_calculator:
//	  path: addons/fee_calculator
//	  module: FeeCalculator
//
// Entries are processed in the order they are written. Loading is all-or-nothing: the
// first entry that cannot be loaded or composed aborts LoadAll with a *LoadError naming
// the addon. Operations mixed in before it are removed from the target again and their
// bundles are closed.
package addon
