// Package builtin registers the plugins shipped with the server.
package builtin

import (
	"github.com/platinummonkey/wharf/pkg/plugins"
	"github.com/platinummonkey/wharf/pkg/plugins/builtin/authgate"
	"github.com/platinummonkey/wharf/pkg/plugins/builtin/defaultresponse"
	"github.com/platinummonkey/wharf/pkg/plugins/builtin/fsstorage"
	"github.com/platinummonkey/wharf/pkg/plugins/builtin/memcache"
	"github.com/platinummonkey/wharf/pkg/plugins/builtin/npmhandler"
	"github.com/platinummonkey/wharf/pkg/plugins/builtin/oidcauth"
	"github.com/platinummonkey/wharf/pkg/plugins/builtin/packageapi"
	"github.com/platinummonkey/wharf/pkg/plugins/builtin/pkgvalidator"
	"github.com/platinummonkey/wharf/pkg/plugins/builtin/ratelimit"
	"github.com/platinummonkey/wharf/pkg/plugins/builtin/rediscache"
	"github.com/platinummonkey/wharf/pkg/plugins/builtin/responsecache"
	"github.com/platinummonkey/wharf/pkg/plugins/builtin/s3storage"
	"github.com/platinummonkey/wharf/pkg/plugins/builtin/sqldb"
	"github.com/platinummonkey/wharf/pkg/plugins/builtin/tokenauth"
)

// Exports returns every built-in plugin
func Exports() []plugins.Export {
	return []plugins.Export{
		memcache.Export(),
		rediscache.Export(),
		sqldb.Export(),
		fsstorage.Export(),
		s3storage.Export(),
		tokenauth.Export(),
		oidcauth.Export(),
		pkgvalidator.Export(),
		npmhandler.Export(),
		ratelimit.Export(),
		authgate.Export(),
		responsecache.Export(),
		packageapi.Export(),
		defaultresponse.Export(),
	}
}

// Register adds every built-in plugin to reg
func Register(reg *plugins.Registry) error {
	for _, export := range Exports() {
		if err := reg.Register(export); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding the built-in plugins
func NewRegistry() *plugins.Registry {
	reg := plugins.NewRegistry()
	if err := Register(reg); err != nil {
		panic(err)
	}
	return reg
}
