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

package middleware

import (
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hertz-contrib/jwt"

	"toolforge/internal/tcc"
)

// IdentityKey 请求上下文中的用户标识键
const IdentityKey = "user_id"

// NewJWTAuth 创建 JWT 中间件；身份取 claims 里的 user_id
func NewJWTAuth(key []byte, timeout, maxRefresh time.Duration) (*jwt.HertzJWTMiddleware, error) {
	return jwt.New(&jwt.HertzJWTMiddleware{
		Realm:       "toolforge",
		Key:         key,
		Timeout:     timeout,
		MaxRefresh:  maxRefresh,
		IdentityKey: IdentityKey,
		IdentityHandler: func(ctx context.Context, c *app.RequestContext) interface{} {
			claims := jwt.ExtractClaims(ctx, c)
			return claims[IdentityKey]
		},
	})
}

// OptionalAuth 无凭证请求落匿名身份；带 Authorization 头时走完整 JWT 校验
func OptionalAuth(auth *jwt.HertzJWTMiddleware) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if auth == nil || len(c.GetHeader("Authorization")) == 0 {
			c.Set(IdentityKey, tcc.AnonymousUserID)
			c.Next(ctx)
			return
		}
		auth.MiddlewareFunc()(ctx, c)
	}
}

// UserID 从请求上下文取用户标识，缺省匿名
func UserID(c *app.RequestContext) string {
	if v, ok := c.Get(IdentityKey); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return tcc.AnonymousUserID
}
