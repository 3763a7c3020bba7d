package rpc

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/cpopescu/streamgraph/internal/elements/aiofile"
	"github.com/cpopescu/streamgraph/internal/elements/debugger"
	"github.com/cpopescu/streamgraph/internal/elements/dropping"
	"github.com/cpopescu/streamgraph/internal/elements/f4vflv"
	"github.com/cpopescu/streamgraph/internal/elements/httpclient"
	"github.com/cpopescu/streamgraph/internal/elements/httpposter"
	"github.com/cpopescu/streamgraph/internal/elements/keyframe"
	"github.com/cpopescu/streamgraph/internal/elements/loadbalance"
	"github.com/cpopescu/streamgraph/internal/elements/lookup"
	"github.com/cpopescu/streamgraph/internal/elements/normalizing"
	"github.com/cpopescu/streamgraph/internal/elements/renamer"
	"github.com/cpopescu/streamgraph/internal/elements/resolver"
	"github.com/cpopescu/streamgraph/internal/elements/saving"
	"github.com/cpopescu/streamgraph/internal/elements/splitting"
	"github.com/cpopescu/streamgraph/internal/elements/switching"
	"github.com/cpopescu/streamgraph/internal/elements/timesaving"
	"github.com/cpopescu/streamgraph/internal/f4v"
	"github.com/cpopescu/streamgraph/internal/graph"
	"github.com/cpopescu/streamgraph/internal/loop"
	"github.com/cpopescu/streamgraph/internal/rpc/resolverpb"
	"github.com/cpopescu/streamgraph/internal/statekeeper"
	"github.com/cpopescu/streamgraph/internal/tag"
	"github.com/cpopescu/streamgraph/pkg/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ElementRegistry builds and registers elements from their JSON specs. One
// kind string per AddXxxElementSpec route named in the external interface.
type ElementRegistry struct {
	mapper *graph.Mapper
	lp     *loop.Loop
	keeper statekeeper.Keeper
	logger logging.Logger
}

func NewElementRegistry(mapper *graph.Mapper, lp *loop.Loop, keeper statekeeper.Keeper, logger logging.Logger) *ElementRegistry {
	return &ElementRegistry{mapper: mapper, lp: lp, keeper: keeper, logger: logger}
}

func capsFromSpec(s CapabilitiesSpec) tag.Capabilities {
	return tag.Capabilities{Kind: tag.Kind(s.Kind), AnyKind: s.AnyKind, FlavourMask: tag.Mask(s.FlavourMask)}
}

// Build constructs the element named by kind from raw JSON params,
// registers it in the mapper, and calls Initialize.
func (r *ElementRegistry) Build(kind, name string, params json.RawMessage) (graph.Element, error) {
	elem, err := r.construct(kind, name, params)
	if err != nil {
		return nil, err
	}
	r.mapper.Register(elem)
	if !elem.Initialize() {
		r.mapper.Unregister(name)
		return nil, fmt.Errorf("rpc: element %q (%s) failed to initialize", name, kind)
	}
	return elem, nil
}

func (r *ElementRegistry) construct(kind, name string, raw json.RawMessage) (graph.Element, error) {
	switch kind {
	case dropping.ClassName:
		var p DroppingParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return dropping.New(name, r.mapper, r.logger, p.MediaFiltered, dropping.Params{
			AudioAcceptMs: p.AudioAcceptMs, AudioDropMs: p.AudioDropMs,
			VideoAcceptMs: p.VideoAcceptMs, VideoDropMs: p.VideoDropMs,
			VideoGraceKeyframes: p.VideoGraceKeyframes,
		}), nil

	case keyframe.ClassName:
		var p KeyframeParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return keyframe.New(name, r.mapper, r.logger, p.MediaFiltered, p.MsBetweenVideoFrames, p.DropAudio), nil

	case normalizing.ClassName:
		var p NormalizingParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return normalizing.New(name, r.mapper, r.logger, p.MediaFiltered, p.FlowControlWriteAheadMs, p.FlowControlExtraWriteAheadMs), nil

	case renamer.ClassName:
		var p RenamerParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return renamer.New(name, r.mapper, r.logger, p.MediaFiltered, p.Pattern, p.Replace)

	case debugger.ClassName:
		var p DebuggerParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return debugger.New(name, r.mapper, r.logger, p.MediaFiltered), nil

	case splitting.ClassName:
		var p SplittingParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		maxTagSize := p.MaxTagSize
		if maxTagSize <= 0 {
			maxTagSize = 1 << 20
		}
		return splitting.New(name, r.mapper, r.logger, p.MediaFiltered, f4v.NewSplitterFactory(r.logger), maxTagSize), nil

	case f4vflv.ClassName:
		var p F4VFLVParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return f4vflv.New(name, r.mapper, r.logger, p.MediaFiltered, f4v.NewConverter()), nil

	case loadbalance.ClassName:
		var p LoadBalanceParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return loadbalance.New(name, r.mapper, r.logger, p.SubElements), nil

	case saving.ClassName:
		var p SavingParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		cfg := saving.Config{BaseMediaDir: p.BaseMediaDir, Media: p.Media, SaveDir: p.SaveDir}
		return saving.New(name, r.mapper, r.lp, r.logger, cfg, func() tag.Serializer { return f4v.NewFlvSerializer() }), nil

	case httpposter.ClassName:
		var p HTTPPosterParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		cfg := httpposter.Config{
			MediaName: p.MediaName, URL: p.URL, User: p.User, Password: p.Password,
			MaxBufferSize: p.MaxBufferSize, DesiredChunkSize: p.DesiredChunkSize,
			MediaRetryTimeout: msToDuration(p.MediaRetryTimeoutMs), HTTPRetryTimeout: msToDuration(p.HTTPRetryTimeoutMs),
		}
		return httpposter.New(name, r.mapper, r.lp, r.logger, cfg, f4v.NewFlvSerializer()), nil

	case httpclient.ClassName:
		var p HTTPClientParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		cfg := httpclient.Config{
			PrefillBufferMs: p.PrefillBufferMs, AdvanceMediaMs: p.AdvanceMediaMs,
			MaxTagSize: p.MaxTagSize, ChunkSize: p.ChunkSize, RequestTimeout: msToDuration(p.RequestTimeoutMs),
		}
		return httpclient.New(name, r.mapper, r.lp, r.logger, cfg, f4v.NewSplitterFactory(r.logger)), nil

	case aiofile.ClassName:
		var p AIOFileParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		pattern, err := regexp.Compile(p.FilePattern)
		if err != nil {
			return nil, fmt.Errorf("rpc: bad file_pattern: %w", err)
		}
		cfg := aiofile.Config{
			HomeDir: p.HomeDir, FilePattern: pattern, DefaultIndexFile: p.DefaultIndexFile,
			DataKeyPrefix: p.DataKeyPrefix, DisablePause: p.DisablePause, DisableSeek: p.DisableSeek,
			DisableDuration: p.DisableDuration, ChunkSize: p.ChunkSize,
			ChunkInterval: msToDuration(p.ChunkIntervalMs),
		}
		return aiofile.New(name, r.mapper, r.lp, r.logger, cfg, f4v.NewSplitterFactory(r.logger)), nil

	case lookup.ClassName:
		var p LookupParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		fetcherElem, ok := r.mapper.Lookup(p.FetcherName)
		if !ok {
			return nil, fmt.Errorf("rpc: lookup element %q: fetcher %q not registered", name, p.FetcherName)
		}
		fetcher, ok := fetcherElem.(*httpclient.Element)
		if !ok {
			return nil, fmt.Errorf("rpc: lookup element %q: fetcher %q is not an httpclient element", name, p.FetcherName)
		}
		cfg := lookup.Config{
			LookupServers: p.LookupServers, QueryPathFormat: p.QueryPathFormat,
			HTTPHeaders: p.HTTPHeaders, NumRetries: p.NumRetries,
			RequestTimeout: msToDuration(p.RequestTimeoutMs), LocalLookupFirst: p.LocalLookupFirst,
		}
		return lookup.New(name, r.mapper, r.logger, cfg, fetcher), nil

	case timesaving.ClassName:
		var p TimeSavingParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		cfg := timesaving.Config{MediaFiltered: p.MediaFiltered, SaveInterval: msToDuration(p.SaveIntervalMs)}
		return timesaving.New(name, r.mapper, r.lp, r.logger, r.keeper, cfg), nil

	case switching.ClassName:
		var p SwitchingParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return switching.New(name, r.mapper, r.lp, r.logger, capsFromSpec(p.Caps), p.TagTimeoutMs, p.WriteAheadMs, p.MediaOnlyWhenUsed), nil

	case resolver.ClassName:
		var p RemoteResolverParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		clients := make([]*resolverpb.ResolverClient, 0, len(p.Servers))
		for _, addr := range p.Servers {
			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return nil, fmt.Errorf("rpc: dialing resolver %q: %w", addr, err)
			}
			clients = append(clients, resolverpb.NewResolverClient(conn))
		}
		cfg := resolver.Config{
			CacheExpiration: msToDuration(p.CacheExpirationMs), Clients: clients,
			NumRetries: p.NumRetries, RequestTimeout: msToDuration(p.RequestTimeoutMs),
			LocalLookupFirst: p.LocalLookupFirst, DefaultCaps: capsFromSpec(p.DefaultCaps),
		}
		return resolver.New(name, r.mapper, r.lp, r.logger, cfg), nil

	default:
		return nil, fmt.Errorf("rpc: unknown element kind %q", kind)
	}
}

// msToDuration converts the plain milliseconds every spec carries over
// JSON into the time.Duration the element packages expect.
func msToDuration(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }
