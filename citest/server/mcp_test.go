package server_test

import (
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/mcphost/citest/testutil"
	"github.com/opencode-ai/mcphost/internal/mcp"
	"github.com/opencode-ai/mcphost/internal/server"
)

func echoEntry() map[string]any {
	return map[string]any{"url": echoURL, "timeout": "10s"}
}

var _ = Describe("MCP registry API", func() {
	var name string

	BeforeEach(func() {
		name = "echo" + testutil.RandomString(6)
	})

	AfterEach(func() {
		client.RemoveServer(ctx, name)
	})

	Describe("GET /health", func() {
		It("should answer ok", func() {
			resp, err := client.Get(ctx, "/health")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("POST /mcp", func() {
		It("should connect a shared server", func() {
			status, err := client.AddServer(ctx, name, "", echoEntry())
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Name).To(Equal(name))
			Expect(status.State).To(Equal(mcp.StateActive))
			Expect(status.Scope).To(Equal("shared"))
			Expect(status.ToolCount).To(Equal(4))
			Expect(status.ConnectionID).NotTo(BeEmpty())

			servers, err := client.ListServers(ctx)
			Expect(err).NotTo(HaveOccurred())
			names := make([]string, 0, len(servers))
			for _, s := range servers {
				names = append(names, s.Name)
			}
			Expect(names).To(ContainElement(name))
		})

		It("should reject a duplicate name", func() {
			_, err := client.AddServer(ctx, name, "", echoEntry())
			Expect(err).NotTo(HaveOccurred())

			_, err = client.AddServer(ctx, name, "", echoEntry())
			var se *testutil.StatusError
			Expect(err).To(BeAssignableToTypeOf(se))
			se = err.(*testutil.StatusError)
			Expect(se.StatusCode).To(Equal(http.StatusConflict))
		})

		It("should report an unreachable server as a transport error", func() {
			_, err := client.AddServer(ctx, name, "", map[string]any{"command": "mcphost-no-such-binary"})
			Expect(err).To(HaveOccurred())
			se := err.(*testutil.StatusError)
			Expect(se.StatusCode).To(Equal(http.StatusBadGateway))
			Expect(se.Detail.Code).To(Equal("TRANSPORT_ERROR"))
		})
	})

	Describe("tools", func() {
		BeforeEach(func() {
			_, err := client.AddServer(ctx, name, "", echoEntry())
			Expect(err).NotTo(HaveOccurred())
		})

		It("should list the server's tools by skill id", func() {
			tools, err := client.ListTools(ctx)
			Expect(err).NotTo(HaveOccurred())
			ids := make([]string, 0)
			for _, t := range tools.Tools {
				if t.Server == name {
					ids = append(ids, t.ID)
				}
			}
			Expect(ids).To(ConsistOf(
				mcp.SkillID(name, "ping"),
				mcp.SkillID(name, "echo"),
				mcp.SkillID(name, "sum"),
				mcp.SkillID(name, "fail"),
			))
		})

		It("should call a tool", func() {
			res, err := client.CallTool(ctx, mcp.SkillID(name, "echo"), map[string]any{"message": "hello"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsError).To(BeFalse())
			Expect(res.Output).To(Equal("hello"))
		})

		It("should report a tool failure in the body", func() {
			res, err := client.CallTool(ctx, mcp.SkillID(name, "fail"), map[string]any{"reason": "nope"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsError).To(BeTrue())
			Expect(res.ErrorKind).To(Equal("tool"))
			Expect(res.Output).To(ContainSubstring("nope"))
		})

		It("should answer 404 for an unknown tool", func() {
			_, err := client.CallTool(ctx, mcp.SkillID(name, "missing"), nil)
			se := err.(*testutil.StatusError)
			Expect(se.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should hand out a new connection on reconnect", func() {
			before, err := client.GetServer(ctx, name)
			Expect(err).NotTo(HaveOccurred())

			after, err := client.Reconnect(ctx, name)
			Expect(err).NotTo(HaveOccurred())
			Expect(after.State).To(Equal(mcp.StateActive))
			Expect(after.ConnectionID).NotTo(Equal(before.ConnectionID))
		})
	})

	Describe("private servers", func() {
		It("should only be visible to their owner", func() {
			status, err := client.AddServer(ctx, name, "alice", echoEntry())
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Scope).To(Equal("private:alice"))

			id := mcp.SkillID(name, "ping")
			owned, err := client.ListTools(ctx, testutil.CallerHeader("alice"))
			Expect(err).NotTo(HaveOccurred())
			Expect(skillIDs(owned.Tools)).To(ContainElement(id))

			other, err := client.ListTools(ctx, testutil.CallerHeader("bob"))
			Expect(err).NotTo(HaveOccurred())
			Expect(skillIDs(other.Tools)).NotTo(ContainElement(id))

			_, err = client.CallTool(ctx, id, nil, testutil.CallerHeader("bob"))
			Expect(err.(*testutil.StatusError).StatusCode).To(Equal(http.StatusNotFound))

			res, err := client.CallTool(ctx, id, nil, testutil.CallerHeader("alice"))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Output).To(Equal("pong"))
		})
	})

	Describe("POST /mcp/reload", func() {
		AfterEach(func() {
			_, err := projectDir.WriteServers(map[string]any{})
			Expect(err).NotTo(HaveOccurred())
			_, err = client.Reload(ctx)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should connect servers from the project config", func() {
			_, err := projectDir.WriteServers(map[string]any{name: echoEntry()})
			Expect(err).NotTo(HaveOccurred())

			res, err := client.Reload(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Error).To(BeEmpty())

			status, err := client.GetServer(ctx, name)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.State).To(Equal(mcp.StateActive))
			Expect(status.Source).To(ContainSubstring("project"))
		})

		It("should keep servers added through the API", func() {
			status, err := client.AddServer(ctx, name, "", echoEntry())
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Pinned).To(BeTrue())

			_, err = client.Reload(ctx)
			Expect(err).NotTo(HaveOccurred())

			after, err := client.GetServer(ctx, name)
			Expect(err).NotTo(HaveOccurred())
			Expect(after.ConnectionID).To(Equal(status.ConnectionID))
		})

		It("should drop servers removed from the config", func() {
			_, err := projectDir.WriteServers(map[string]any{name: echoEntry()})
			Expect(err).NotTo(HaveOccurred())
			_, err = client.Reload(ctx)
			Expect(err).NotTo(HaveOccurred())

			_, err = projectDir.WriteServers(map[string]any{})
			Expect(err).NotTo(HaveOccurred())
			_, err = client.Reload(ctx)
			Expect(err).NotTo(HaveOccurred())

			_, err = client.GetServer(ctx, name)
			Expect(err.(*testutil.StatusError).StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /mcp/events", func() {
		It("should stream registry events", func() {
			sse := testServer.SSEClient()
			Expect(sse.Connect(ctx, "/mcp/events")).To(Succeed())
			defer sse.Close()

			_, err := sse.WaitForEvent("server.connected", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			_, err = client.AddServer(ctx, name, "", echoEntry())
			Expect(err).NotTo(HaveOccurred())

			evt, err := sse.WaitForEvent("mcp.server.connected", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())
			data, err := evt.ParseServerEvent()
			Expect(err).NotTo(HaveOccurred())
			Expect(data.Server).To(Equal(name))
			Expect(data.ToolCount).To(Equal(4))

			Expect(client.RemoveServer(ctx, name)).To(Succeed())
			_, err = sse.WaitForEvent("mcp.server.disconnected", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			matcher := testutil.NewEventMatcher(sse.GetAllEvents())
			Expect(matcher.ForServer(name)).NotTo(BeEmpty())
		})
	})
})

func skillIDs(tools []server.SkillInfo) []string {
	ids := make([]string, 0, len(tools))
	for _, t := range tools {
		ids = append(ids, t.ID)
	}
	return ids
}
