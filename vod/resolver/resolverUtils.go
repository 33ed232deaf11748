package resolver

import (
	"fmt"

	"github.com/fzxiao233/VodFetch/config"
	"github.com/fzxiao233/VodFetch/vod/resolver/base"
	"github.com/fzxiao233/VodFetch/vod/resolver/mgstage"
	"github.com/fzxiao233/VodFetch/vod/resolver/nanairo"
)

// CreateResolver picks the resolver for conf.Site.
func CreateResolver(conf *config.MainConfig) (base.Resolver, error) {
	client, err := base.CreateHttpClient(conf.Proxy, base.ApiTimeout)
	if err != nil {
		return nil, err
	}
	ctx := base.CreateResolverCtx(client, conf.ApiRateLimit, conf.ExtraConfig)
	switch conf.Site {
	case config.SiteMgstage:
		return mgstage.New(ctx, mgstage.Identity{
			Uid:           conf.Uid,
			DeviceId:      conf.DeviceId,
			ShopId:        conf.ShopId,
			Quality:       conf.Quality,
			PlayerVersion: conf.PlayerVersion,
		}), nil
	case config.SiteNanairo:
		return nanairo.New(ctx, conf.Language, conf.Cookie, conf.StripEmoji), nil
	default:
		return nil, fmt.Errorf("no resolver for site %s", conf.Site)
	}
}
