// Package plugins is the plugin composition runtime of the registry server.
//
// # Overview
//
// Every capability of the server (persistence, authentication, caching,
// object storage, request validation, HTTP handling) is supplied by a plugin.
// This package discovers the configured plugins, validates their
// configuration, orders them, selects one provider per capability and
// initializes them.
//
// # Components
//
// Registry: maps module names from the configuration file to Export values
// Schema: structural validation of a plugin's configuration blob
// DependencyGraph: turns loadAfter constraints into a deterministic order
// Selector: chooses exactly one provider per capability
// Initializer: instantiates plugins in order and fills EnvironmentMetadata
//
// # Plugin Contract
//
//	plugins.Export{
//		Module:         "sql-database",
//		ConfigRequired: true,
//		ConfigSchema:   schema,
//		Provides:       map[plugins.Capability]string{plugins.CapabilityDatabase: "sql"},
//		Init:           newDatabase,
//	}
//
// LoadAfter accepts plugin ids, capability names ("after whoever provides
// it") and "*" ("after everything else"). An instance that implements
// MetadataAware sees the selections made so far right after its Init.
//
// # Usage Example
//
//	reg := plugins.NewRegistry()
//	builtin.Register(reg)
//
//	cfg, err := plugins.NewRuntimeConfiguration(descriptors, preferences)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	rt, err := plugins.NewInitializer(reg, plugins.WithLogger(logger)).Initialize(ctx, cfg)
//	if err != nil {
//		log.Fatal(err) // every startup error is fatal
//	}
//	defer rt.Close(ctx)
//
// # Related Packages
//
//   - pkg/dispatch: routes requests through the middleware plugins
//   - pkg/plugins/builtin: the plugins shipped with the server
package plugins
