package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vividoc/backend/config"
	"k8s.io/klog/v2"
)

type ConfigHandler struct {
	mu   sync.RWMutex // 保护 cfg
	cfg  *config.Config
	path string
}

func NewConfigHandler(cfg *config.Config, path string) *ConfigHandler {
	return &ConfigHandler{cfg: cfg, path: path}
}

type ConfigResponse struct {
	LLM      LLMConfigResponse      `json:"llm"`
	Pipeline PipelineConfigResponse `json:"pipeline"`
}

type LLMConfigResponse struct {
	APIURL    string `json:"api_url"`
	APIKey    string `json:"api_key"`
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
}

type PipelineConfigResponse struct {
	MaxFixAttempts    int    `json:"max_fix_attempts"`
	MaxRevisionRounds int    `json:"max_revision_rounds"`
	RevisionPolicy    string `json:"revision_policy"`
	UnitRetries       int    `json:"unit_retries"`
	UnitConcurrency   int    `json:"unit_concurrency"`
	CallTimeout       string `json:"call_timeout"`
}

func (h *ConfigHandler) Get(c *gin.Context) {
	h.mu.RLock()
	resp := h.response()
	h.mu.RUnlock()
	c.JSON(http.StatusOK, resp)
}

// response 调用方需持有 mu
func (h *ConfigHandler) response() ConfigResponse {
	p := h.cfg.Pipeline
	return ConfigResponse{
		LLM: LLMConfigResponse{
			APIURL:    h.cfg.LLM.APIURL,
			APIKey:    maskKey(h.cfg.LLM.APIKey),
			Model:     h.cfg.LLM.Model,
			MaxTokens: h.cfg.LLM.MaxTokens,
		},
		Pipeline: PipelineConfigResponse{
			MaxFixAttempts:    p.MaxFixAttempts,
			MaxRevisionRounds: p.MaxRevisionRounds,
			RevisionPolicy:    string(p.RevisionPolicy),
			UnitRetries:       p.UnitRetries,
			UnitConcurrency:   p.UnitConcurrency,
			CallTimeout:       p.CallTimeout.String(),
		},
	}
}

type UpdateConfigRequest struct {
	LLM      *LLMConfigRequest      `json:"llm,omitempty"`
	Pipeline *PipelineConfigRequest `json:"pipeline,omitempty"`
}

type LLMConfigRequest struct {
	APIURL    string `json:"api_url,omitempty"`
	APIKey    string `json:"api_key,omitempty"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

type PipelineConfigRequest struct {
	MaxFixAttempts    *int    `json:"max_fix_attempts,omitempty"`
	MaxRevisionRounds *int    `json:"max_revision_rounds,omitempty"`
	RevisionPolicy    string  `json:"revision_policy,omitempty"`
	UnitRetries       *int    `json:"unit_retries,omitempty"`
	UnitConcurrency   *int    `json:"unit_concurrency,omitempty"`
	CallTimeout       *string `json:"call_timeout,omitempty"`
}

// Update 修改并保存配置，流水线参数在服务重启后生效
func (h *ConfigHandler) Update(c *gin.Context) {
	var req UpdateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	next := *h.cfg
	if req.LLM != nil {
		if req.LLM.APIURL != "" {
			next.LLM.APIURL = req.LLM.APIURL
		}
		if req.LLM.APIKey != "" && req.LLM.APIKey != maskKey(h.cfg.LLM.APIKey) {
			next.LLM.APIKey = req.LLM.APIKey
		}
		if req.LLM.Model != "" {
			next.LLM.Model = req.LLM.Model
		}
		if req.LLM.MaxTokens > 0 {
			next.LLM.MaxTokens = req.LLM.MaxTokens
		}
	}
	if p := req.Pipeline; p != nil {
		if p.MaxFixAttempts != nil {
			next.Pipeline.MaxFixAttempts = *p.MaxFixAttempts
		}
		if p.MaxRevisionRounds != nil {
			next.Pipeline.MaxRevisionRounds = *p.MaxRevisionRounds
		}
		if p.RevisionPolicy != "" {
			next.Pipeline.RevisionPolicy = config.RevisionPolicy(p.RevisionPolicy)
		}
		if p.UnitRetries != nil {
			next.Pipeline.UnitRetries = *p.UnitRetries
		}
		if p.UnitConcurrency != nil {
			next.Pipeline.UnitConcurrency = *p.UnitConcurrency
		}
		if p.CallTimeout != nil {
			d, err := time.ParseDuration(*p.CallTimeout)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid call_timeout: " + err.Error()})
				return
			}
			next.Pipeline.CallTimeout = d
		}
	}
	if err := next.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.path != "" {
		if err := next.Save(h.path); err != nil {
			klog.Errorf("[ConfigHandler.Update] 保存配置失败: path=%s, err=%v", h.path, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
			return
		}
	}
	*h.cfg = next
	config.UpdateConfig(h.cfg)

	c.JSON(http.StatusOK, h.response())
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "********"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
