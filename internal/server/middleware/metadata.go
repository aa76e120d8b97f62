package middleware

import (
	"github.com/CarlosdRojasC/envigo-realtime/pkg/state"
	"github.com/gin-gonic/gin"
)

const reqMetaKey = "request-metadata"

// RequestMetadata travels with the request through the middleware chain.
// The auth middleware fills Identity after verifying the admission token.
type RequestMetadata struct {
	IP       string
	Identity state.Identity
}

func ReqMetadataFrom(c *gin.Context) (*RequestMetadata, bool) {
	v, ok := c.Get(reqMetaKey)
	if !ok {
		return nil, false
	}
	reqMeta, ok := v.(*RequestMetadata)
	return reqMeta, ok
}

// RequestMetadataMiddleware creates and injects the RequestMetadata struct.
// **This should be the first middleware in the chain.**
func RequestMetadataMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(reqMetaKey, &RequestMetadata{IP: c.ClientIP()})
		c.Next()
	}
}
