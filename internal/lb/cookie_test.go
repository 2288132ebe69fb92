package lb_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/taijiproxy/taiji/internal/lb"
)

var _ = Describe("GenerateCookie", func() {
	It("is deterministic for the same address pair", func() {
		v1, h1, ok1 := lb.GenerateCookie("10.0.0.1:443", "10.0.0.2:8080", "taiji_session", "/", time.Hour, nil)
		v2, h2, ok2 := lb.GenerateCookie("10.0.0.1:443", "10.0.0.2:8080", "taiji_session", "/", time.Hour, nil)
		Expect(ok1).To(BeTrue())
		Expect(ok2).To(BeTrue())
		Expect(v2).To(Equal(v1))
		Expect(h2).To(Equal(h1))
	})

	It("bails out when either address is empty", func() {
		_, _, ok := lb.GenerateCookie("", "10.0.0.2:8080", "taiji_session", "/", time.Hour, nil)
		Expect(ok).To(BeFalse())
	})

	It("includes extra attributes in the header value", func() {
		_, header, ok := lb.GenerateCookie("a", "b", "taiji_session", "/", time.Minute, []lb.CookieAttribute{{Name: "SameSite", Value: "Strict"}})
		Expect(ok).To(BeTrue())
		Expect(header).To(ContainSubstring("SameSite=Strict"))
		Expect(header).To(ContainSubstring("HttpOnly"))
	})
})
