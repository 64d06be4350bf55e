// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"github.com/cloudwego/hertz/pkg/app/server"
	hertzconfig "github.com/cloudwego/hertz/pkg/common/config"
	"github.com/hertz-contrib/jwt"

	"toolforge/internal/api/http/middleware"
)

// Router HTTP 路由
type Router struct {
	handler     *Handler
	middleware  *middleware.Middleware
	jwtAuth     *jwt.HertzJWTMiddleware
	corsOrigins []string
	rateLimit   int
}

// NewRouter 创建路由
func NewRouter(handler *Handler, mw *middleware.Middleware) *Router {
	return &Router{
		handler:    handler,
		middleware: mw,
	}
}

// SetJWT 启用 JWT 认证；未设置时所有请求按匿名身份处理
func (r *Router) SetJWT(auth *jwt.HertzJWTMiddleware) {
	r.jwtAuth = auth
}

// SetCORSOrigins 设置允许的跨域来源；空表示允许所有
func (r *Router) SetCORSOrigins(origins []string) {
	r.corsOrigins = origins
}

// SetRateLimit 设置每秒请求上限；<=0 表示不限流
func (r *Router) SetRateLimit(rps int) {
	r.rateLimit = rps
}

// Build 创建 Hertz server 并注册全部路由
func (r *Router) Build(addr string, opts ...hertzconfig.Option) *server.Hertz {
	options := append([]hertzconfig.Option{server.WithHostPorts(addr)}, opts...)
	h := server.Default(options...)

	h.Use(r.middleware.CORS(r.corsOrigins))
	if r.rateLimit > 0 {
		h.Use(r.middleware.RateLimit(r.rateLimit))
	}

	h.GET("/api/health", r.handler.HealthCheck)
	h.GET("/api/metrics", r.handler.Metrics)

	api := h.Group("/api")
	api.Use(middleware.OptionalAuth(r.jwtAuth))

	tools := api.Group("/tools")
	{
		tools.POST("/start", r.handler.StartTool)
		tools.GET("/:id", r.handler.GetTool)
		tools.GET("/:id/progress", r.handler.GetProgress)
		tools.GET("/:id/events", r.handler.WatchProgress)
		tools.POST("/:id/pause", r.handler.PauseTool)
		tools.POST("/:id/resume", r.handler.ResumeTool)
	}

	return h
}
