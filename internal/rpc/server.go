// Package rpc implements the HTTP control surface over the streaming
// graph: element and policy construction, authorizer administration, the
// built-in resolve backend, and read-only stats/switch reporting. One gin
// route group per concern, registered alongside the health and metrics
// endpoints pkg/server already wires in.
package rpc

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/cpopescu/streamgraph/internal/elements/authorizer"
	"github.com/cpopescu/streamgraph/internal/graph"
	"github.com/cpopescu/streamgraph/internal/loop"
	"github.com/cpopescu/streamgraph/internal/policy"
	"github.com/cpopescu/streamgraph/internal/stats"
	"github.com/cpopescu/streamgraph/internal/statekeeper"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

// Server bundles every registry the control surface dispatches to and
// mounts them onto a gin router.
type Server struct {
	mapper      *graph.Mapper
	lp          *loop.Loop
	keeper      statekeeper.Keeper
	logger      logging.Logger
	collector   *stats.Collector
	resolveBack ResolveBackend

	elements    *ElementRegistry
	policies    *PolicyRegistry
	authorizers *AuthorizerRegistry

	validate *validator.Validate
}

// NewServer constructs the control surface over an already-running graph.
func NewServer(mapper *graph.Mapper, lp *loop.Loop, keeper statekeeper.Keeper, logger logging.Logger, collector *stats.Collector, resolveBack ResolveBackend) *Server {
	return &Server{
		mapper:      mapper,
		lp:          lp,
		keeper:      keeper,
		logger:      logger,
		collector:   collector,
		resolveBack: resolveBack,
		elements:    NewElementRegistry(mapper, lp, keeper, logger),
		policies:    NewPolicyRegistry(mapper, lp, keeper, logger),
		authorizers: NewAuthorizerRegistry(keeper, logger),
		validate:    validator.New(),
	}
}

// RegisterRoutes mounts every control-surface endpoint onto router.
func (s *Server) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/v1")

	elements := v1.Group("/elements")
	elements.POST("", s.handleAddElement)
	elements.GET("", s.handleListElements)
	elements.DELETE("/:name", s.handleRemoveElement)

	policies := v1.Group("/policies")
	policies.POST("", s.handleAddPolicy)
	policies.POST("/:name/playlist", s.handleSetPlaylist)
	policies.POST("/:name/timed-playlist", s.handleSetTimedPlaylist)
	policies.GET("/:name/play-info", s.handleGetPlayInfo)
	policies.POST("/:name/switch", s.handleSwitchPolicy)
	policies.GET("/:name/default-media", s.handleGetDefaultMedia)

	authorizers := v1.Group("/authorizers")
	authorizers.POST("", s.handleAddAuthorizer)
	authorizers.POST("/:name/users", s.handleSetUserPassword)
	authorizers.DELETE("/:name/users/:user", s.handleDeleteUser)
	authorizers.GET("/:name/users", s.handleGetUsers)
	authorizers.POST("/:name/authorize", s.handleAuthorize)

	resolve := v1.Group("/resolve")
	resolve.POST("", s.handleResolve)
	resolve.PUT("", s.handleSetResolveSpec)

	statsGroup := v1.Group("/stats")
	statsGroup.GET("/streams", s.handleGetStreamsStats)
	statsGroup.GET("/stream-ids", s.handleGetAllStreamIds)
	statsGroup.GET("/media", s.handleGetDetailedMediaStats)

	switchGroup := v1.Group("/switch")
	switchGroup.GET("/:media", s.handleGetSwitchCurrentMedia)
	switchGroup.GET("/:media/recursive", s.handleRecursiveGetSwitchCurrentMedia)
}

// bindAndValidate decodes the request body into v and runs struct
// validation, writing a 400 response and returning false on failure.
func (s *Server) bindAndValidate(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func (s *Server) handleAddElement(c *gin.Context) {
	var spec ElementSpec
	if !s.bindAndValidate(c, &spec) {
		return
	}
	elem, err := s.elements.Build(spec.Kind, spec.Name, spec.Params)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"name": elem.Name(), "kind": elem.ClassName()})
}

func (s *Server) handleListElements(c *gin.Context) {
	all := s.mapper.All()
	out := make([]gin.H, 0, len(all))
	for _, e := range all {
		out = append(out, gin.H{"name": e.Name(), "kind": e.ClassName()})
	}
	c.JSON(http.StatusOK, gin.H{"elements": out})
}

func (s *Server) handleRemoveElement(c *gin.Context) {
	name := c.Param("name")
	elem, ok := s.mapper.Lookup(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "element not found"})
		return
	}
	done := make(chan struct{})
	s.lp.RunInLoop(func() {
		elem.Close(func() { close(done) })
	})
	<-done
	s.mapper.Unregister(name)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleAddPolicy(c *gin.Context) {
	var spec PolicySpec
	if !s.bindAndValidate(c, &spec) {
		return
	}
	pol, err := s.policies.Build(spec.Kind, spec.Name, spec.Params)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"name": pol.Name(), "kind": pol.ClassName()})
}

func (s *Server) lookupPolicy(c *gin.Context) (policy.Policy, bool) {
	pol, ok := s.policies.Lookup(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "policy not found"})
		return nil, false
	}
	return pol, true
}

func (s *Server) handleSetPlaylist(c *gin.Context) {
	pol, ok := s.lookupPolicy(c)
	if !ok {
		return
	}
	pl, ok := pol.(*policy.PlaylistPolicy)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "policy is not a playlist policy"})
		return
	}
	var req SetPlaylistRequest
	if !s.bindAndValidate(c, &req) {
		return
	}
	pl.SetPlaylist(req.Playlist, req.Loop)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSetTimedPlaylist(c *gin.Context) {
	pol, ok := s.lookupPolicy(c)
	if !ok {
		return
	}
	tp, ok := pol.(*policy.TimedPlaylistPolicy)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "policy is not a timed playlist policy"})
		return
	}
	var req SetTimedPlaylistRequest
	if !s.bindAndValidate(c, &req) {
		return
	}
	entries := make([]policy.TimedPlaylistEntry, len(req.Playlist))
	for i, e := range req.Playlist {
		entries[i] = policy.TimedPlaylistEntry{Media: e.Media, Duration: msToDuration(e.DurationMs)}
	}
	tp.SetPlaylist(entries, req.Loop)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGetPlayInfo(c *gin.Context) {
	pol, ok := s.lookupPolicy(c)
	if !ok {
		return
	}
	switch p := pol.(type) {
	case *policy.PlaylistPolicy:
		c.JSON(http.StatusOK, p.GetPlayInfo())
	case *policy.TimedPlaylistPolicy:
		c.JSON(http.StatusOK, p.GetPlayInfo())
	case *policy.OnCommandPolicy:
		c.JSON(http.StatusOK, p.GetPlayInfo())
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "policy does not expose play info"})
	}
}

func (s *Server) handleSwitchPolicy(c *gin.Context) {
	pol, ok := s.lookupPolicy(c)
	if !ok {
		return
	}
	oc, ok := pol.(*policy.OnCommandPolicy)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "policy is not on-command"})
		return
	}
	var req SwitchPolicyRequest
	if !s.bindAndValidate(c, &req) {
		return
	}
	if !oc.PlayMedia(req.Media, req.SetAsDefault, req.AlsoSwitch) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "media not available"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGetDefaultMedia(c *gin.Context) {
	pol, ok := s.lookupPolicy(c)
	if !ok {
		return
	}
	oc, ok := pol.(*policy.OnCommandPolicy)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "policy is not on-command"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"default_media": oc.DefaultMedia()})
}

func (s *Server) handleAddAuthorizer(c *gin.Context) {
	var spec AuthorizerSpec
	if !s.bindAndValidate(c, &spec) {
		return
	}
	a, err := s.authorizers.Build(spec.Name, spec.Params)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"name": spec.Name, "users": a.GetUsers()})
}

func (s *Server) handleSetUserPassword(c *gin.Context) {
	a, ok := s.authorizers.Lookup(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "authorizer not found"})
		return
	}
	var req SetUserPasswordRequest
	if !s.bindAndValidate(c, &req) {
		return
	}
	if err := a.SetUserPassword(req.User, req.Password); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDeleteUser(c *gin.Context) {
	a, ok := s.authorizers.Lookup(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "authorizer not found"})
		return
	}
	if err := a.DeleteUser(c.Param("user")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGetUsers(c *gin.Context) {
	a, ok := s.authorizers.Lookup(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "authorizer not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": a.GetUsers()})
}

func (s *Server) handleAuthorize(c *gin.Context) {
	a, ok := s.authorizers.Lookup(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "authorizer not found"})
		return
	}
	var req AuthorizeRequest
	if !s.bindAndValidate(c, &req) {
		return
	}
	reply := a.Authorize(authorizer.Request{User: req.User, Passwd: req.Password})
	c.JSON(http.StatusOK, reply)
}

func (s *Server) handleResolve(c *gin.Context) {
	var req ResolveRequestBody
	if !s.bindAndValidate(c, &req) {
		return
	}
	toPlay, loop, err := s.resolveBack.ResolveMedia(c.Request.Context(), req.Media)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ResolveResponseBody{ToPlay: toPlay, Loop: loop})
}

func (s *Server) handleSetResolveSpec(c *gin.Context) {
	var req SetResolveSpecRequest
	if !s.bindAndValidate(c, &req) {
		return
	}
	s.resolveBack.SetResolveSpec(req.Media, req.ToPlay, req.Loop)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGetStreamsStats(c *gin.Context) {
	ids := c.Query("ids")
	var streamIDs []string
	if ids != "" {
		streamIDs = strings.Split(ids, ",")
	}
	c.JSON(http.StatusOK, toStreamsStatsResponse(s.collector.GetStreamsStats(streamIDs)))
}

func (s *Server) handleGetAllStreamIds(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stream_ids": s.collector.GetAllStreamIds()})
}

func (s *Server) handleGetDetailedMediaStats(c *gin.Context) {
	start, _ := strconv.Atoi(c.DefaultQuery("start", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	c.JSON(http.StatusOK, DetailedMediaResponse{Media: s.collector.GetDetailedMediaStats(start, limit)})
}

func (s *Server) handleGetSwitchCurrentMedia(c *gin.Context) {
	media, ok := s.mapper.GetSwitchCurrentMedia(c.Param("media"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not a switching element or no media registered"})
		return
	}
	c.JSON(http.StatusOK, SwitchCurrentMediaResponse{Media: media})
}

func (s *Server) handleRecursiveGetSwitchCurrentMedia(c *gin.Context) {
	maxDepth := maxRecursiveSwitchDepth
	if v := c.Query("max_depth"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxRecursiveSwitchDepth {
			maxDepth = n
		}
	}
	media, ok := graph.RecursiveGetSwitchCurrentMedia(s.mapper, c.Param("media"), maxDepth)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no terminal media resolved"})
		return
	}
	c.JSON(http.StatusOK, SwitchCurrentMediaResponse{Media: media})
}
