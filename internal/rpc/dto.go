package rpc

import "encoding/json"

// CapabilitiesSpec is the JSON-facing form of tag.Capabilities.
type CapabilitiesSpec struct {
	Kind        int32  `json:"kind"`
	AnyKind     bool   `json:"any_kind"`
	FlavourMask uint32 `json:"flavour_mask"`
}

// ElementSpec is the envelope every AddXxxElementSpec call shares: a kind
// discriminator routing to the right constructor, and kind-specific
// parameters carried as a nested object.
type ElementSpec struct {
	Kind   string          `json:"kind" validate:"required"`
	Name   string          `json:"name" validate:"required"`
	Params json.RawMessage `json:"params"`
}

// PolicySpec is the envelope every AddXxxPolicy call shares.
type PolicySpec struct {
	Kind   string          `json:"kind" validate:"required"`
	Name   string          `json:"name" validate:"required"`
	Params json.RawMessage `json:"params"`
}

// AuthorizerSpec is the envelope every AddAuthorizer call shares.
type AuthorizerSpec struct {
	Name   string          `json:"name" validate:"required"`
	Params json.RawMessage `json:"params"`
}

// DroppingParams mirrors dropping.Params.
type DroppingParams struct {
	MediaFiltered       string `json:"media_filtered" validate:"required"`
	AudioAcceptMs       int64  `json:"audio_accept_ms"`
	AudioDropMs         int64  `json:"audio_drop_ms"`
	VideoAcceptMs       int64  `json:"video_accept_ms"`
	VideoDropMs         int64  `json:"video_drop_ms"`
	VideoGraceKeyframes int32  `json:"video_grace_keyframes"`
}

// KeyframeParams mirrors keyframe.New's scalar arguments.
type KeyframeParams struct {
	MediaFiltered         string `json:"media_filtered" validate:"required"`
	MsBetweenVideoFrames  int64  `json:"ms_between_video_frames"`
	DropAudio             bool   `json:"drop_audio"`
}

// NormalizingParams mirrors normalizing.New's scalar arguments.
type NormalizingParams struct {
	MediaFiltered                string `json:"media_filtered" validate:"required"`
	FlowControlWriteAheadMs      int64  `json:"flow_control_write_ahead_ms"`
	FlowControlExtraWriteAheadMs int64  `json:"flow_control_extra_write_ahead_ms"`
}

// RenamerParams mirrors renamer.New's scalar arguments.
type RenamerParams struct {
	MediaFiltered string `json:"media_filtered" validate:"required"`
	Pattern       string `json:"pattern" validate:"required"`
	Replace       string `json:"replace"`
}

// DebuggerParams mirrors debugger.New's scalar arguments.
type DebuggerParams struct {
	MediaFiltered string `json:"media_filtered" validate:"required"`
}

// SplittingParams mirrors splitting.New's scalar arguments; the splitter is
// always the F4V decoder, the only container codec this module ships.
type SplittingParams struct {
	MediaFiltered string `json:"media_filtered" validate:"required"`
	MaxTagSize    int    `json:"max_tag_size"`
}

// F4VFLVParams mirrors f4vflv.New's scalar arguments; the converter is
// always the F4V-to-FLV one, the only conversion this module ships.
type F4VFLVParams struct {
	MediaFiltered string `json:"media_filtered" validate:"required"`
}

// LoadBalanceParams mirrors loadbalance.New's scalar arguments.
type LoadBalanceParams struct {
	SubElements []string `json:"sub_elements" validate:"required,min=1"`
}

// SavingParams mirrors saving.Config.
type SavingParams struct {
	BaseMediaDir string `json:"base_media_dir" validate:"required"`
	Media        string `json:"media" validate:"required"`
	SaveDir      string `json:"save_dir"`
}

// HTTPPosterParams mirrors httpposter.Config.
type HTTPPosterParams struct {
	MediaName           string `json:"media_name" validate:"required"`
	URL                 string `json:"url" validate:"required"`
	User                string `json:"user"`
	Password            string `json:"password"`
	MaxBufferSize       int    `json:"max_buffer_size"`
	DesiredChunkSize    int    `json:"desired_chunk_size"`
	MediaRetryTimeoutMs int64  `json:"media_retry_timeout_ms"`
	HTTPRetryTimeoutMs  int64  `json:"http_retry_timeout_ms"`
}

// HTTPClientParams mirrors httpclient.Config; it carries no URLs, and the
// factory builds one Element per spec.
type HTTPClientParams struct {
	PrefillBufferMs  int64 `json:"prefill_buffer_ms"`
	AdvanceMediaMs   int64 `json:"advance_media_ms"`
	MaxTagSize       int   `json:"max_tag_size"`
	ChunkSize        int   `json:"chunk_size"`
	RequestTimeoutMs int64 `json:"request_timeout_ms"`
}

// AIOFileParams mirrors aiofile.Config (FilePattern as a string the
// factory compiles).
type AIOFileParams struct {
	HomeDir          string `json:"home_dir" validate:"required"`
	FilePattern      string `json:"file_pattern" validate:"required"`
	DefaultIndexFile string `json:"default_index_file"`
	DataKeyPrefix    string `json:"data_key_prefix"`
	DisablePause     bool   `json:"disable_pause"`
	DisableSeek      bool   `json:"disable_seek"`
	DisableDuration  bool   `json:"disable_duration"`
	ChunkSize        int    `json:"chunk_size"`
	ChunkIntervalMs  int64  `json:"chunk_interval_ms"`
}

// LookupParams mirrors lookup.Config, plus the name of the httpclient
// fetcher element it is paired with.
type LookupParams struct {
	LookupServers    []string          `json:"lookup_servers" validate:"required,min=1"`
	QueryPathFormat  string            `json:"query_path_format"`
	HTTPHeaders      map[string]string `json:"http_headers"`
	NumRetries       int               `json:"num_retries"`
	RequestTimeoutMs int64             `json:"request_timeout_ms"`
	LocalLookupFirst bool              `json:"local_lookup_first"`
	FetcherName      string            `json:"fetcher_name" validate:"required"`
}

// TimeSavingParams mirrors timesaving.Config.
type TimeSavingParams struct {
	MediaFiltered  string `json:"media_filtered" validate:"required"`
	SaveIntervalMs int64  `json:"save_interval_ms"`
}

// SwitchingParams mirrors switching.New's scalar arguments.
type SwitchingParams struct {
	Caps              CapabilitiesSpec `json:"caps"`
	TagTimeoutMs      int64            `json:"tag_timeout_ms"`
	WriteAheadMs      int64            `json:"write_ahead_ms"`
	MediaOnlyWhenUsed bool             `json:"media_only_when_used"`
}

// RemoteResolverParams mirrors resolver.Config; Servers are dialed via
// internal/rpc/resolverpb's gRPC client, insecure by default.
type RemoteResolverParams struct {
	Servers            []string         `json:"servers" validate:"required,min=1"`
	CacheExpirationMs  int64            `json:"cache_expiration_ms"`
	NumRetries         int              `json:"num_retries"`
	RequestTimeoutMs   int64            `json:"request_timeout_ms"`
	LocalLookupFirst   bool             `json:"local_lookup_first"`
	DefaultCaps        CapabilitiesSpec `json:"default_caps"`
}

// AuthorizerParams mirrors authorizer.New's scalar arguments.
type AuthorizerParams struct {
	TimeLimitMs int64 `json:"time_limit_ms"`
}

// PlaylistParams mirrors policy.PlaylistConfig; Element names the
// switching element this policy drives.
type PlaylistParams struct {
	Element      string   `json:"element" validate:"required"`
	Playlist     []string `json:"playlist"`
	LoopPlaylist bool     `json:"loop_playlist"`
	IsTempPolicy bool     `json:"is_temp_policy"`
}

// TimedPlaylistEntrySpec mirrors policy.TimedPlaylistEntry.
type TimedPlaylistEntrySpec struct {
	Media      string `json:"media"`
	DurationMs int64  `json:"duration_ms"`
}

// TimedPlaylistParams mirrors policy.TimedPlaylistConfig.
type TimedPlaylistParams struct {
	Element      string                   `json:"element" validate:"required"`
	Playlist     []TimedPlaylistEntrySpec `json:"playlist"`
	EmptyPolicy  string                   `json:"empty_policy"` // "replay", "next", or "wait"
	LoopPlaylist bool                     `json:"loop_playlist"`
	IsTempPolicy bool                     `json:"is_temp_policy"`
}

// OnCommandParams mirrors policy.OnCommandConfig.
type OnCommandParams struct {
	Element      string `json:"element" validate:"required"`
	DefaultMedia string `json:"default_media"`
	IsTempPolicy bool   `json:"is_temp_policy"`
}

// RandomParams mirrors policy.RandomConfig.
type RandomParams struct {
	Element        string `json:"element" validate:"required"`
	IsTempPolicy   bool   `json:"is_temp_policy"`
	MaxHistorySize int    `json:"max_history_size"`
}

// FailoverParams mirrors policy.FailoverConfig.
type FailoverParams struct {
	Element                          string `json:"element" validate:"required"`
	MainMedia                        string `json:"main_media" validate:"required"`
	FailoverMedia                    string `json:"failover_media" validate:"required"`
	MainMediaTagsReceivedSwitchLimit int64  `json:"main_media_tags_received_switch_limit"`
	FailoverTimeoutMs                int64  `json:"failover_timeout_ms"`
	ChangeToMainOnlyOnSwitch         bool   `json:"change_to_main_only_on_switch"`
}

// SetPlaylistRequest is SetPlaylist's body for the plain playlist policy.
type SetPlaylistRequest struct {
	Playlist []string `json:"playlist"`
	Loop     bool     `json:"loop"`
}

// SetTimedPlaylistRequest is SetPlaylist's body for the timed playlist.
type SetTimedPlaylistRequest struct {
	Playlist []TimedPlaylistEntrySpec `json:"playlist"`
	Loop     bool                     `json:"loop"`
}

// SwitchPolicyRequest is on-command's PlayMedia body.
type SwitchPolicyRequest struct {
	Media        string `json:"media" validate:"required"`
	SetAsDefault bool   `json:"set_as_default"`
	AlsoSwitch   bool   `json:"also_switch"`
}

// SetUserPasswordRequest is the authorizer's SetUserPassword body.
type SetUserPasswordRequest struct {
	User     string `json:"user" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AuthorizeRequest mirrors authorizer.Request.
type AuthorizeRequest struct {
	User     string `json:"user" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// ResolveRequestBody is ResolveMedia's JSON body.
type ResolveRequestBody struct {
	Media string `json:"media" validate:"required"`
}

// ResolveResponseBody is ResolveMedia's JSON reply.
type ResolveResponseBody struct {
	ToPlay []string `json:"to_play"`
	Loop   bool     `json:"loop"`
}

// SetResolveSpecRequest administers the built-in resolve backend: what
// ResolveMedia(media) should answer.
type SetResolveSpecRequest struct {
	Media  string   `json:"media" validate:"required"`
	ToPlay []string `json:"to_play" validate:"required,min=1"`
	Loop   bool     `json:"loop"`
}
