//go:build integration

package integration

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/eliteGoblin/focusd/kidguard/internal/config"
	"github.com/eliteGoblin/focusd/kidguard/internal/simulate"
	"github.com/eliteGoblin/focusd/kidguard/internal/usecase"
)

var _ = Describe("Scenario fixtures", func() {
	files, err := filepath.Glob(filepath.Join("..", "fixtures", "scenarios", "*.yaml"))
	if err != nil {
		panic(err)
	}

	It("has fixtures to run", func() {
		Expect(files).NotTo(BeEmpty())
	})

	for _, file := range files {
		file := file
		It("meets the expectations in "+filepath.Base(file), func() {
			sc, err := simulate.LoadScenario(file)
			Expect(err).NotTo(HaveOccurred())
			Expect(sc.Expect).NotTo(BeNil(), "fixture needs an expect block")

			report, err := simulate.Run(sc, usecase.DefaultEngineConfig(config.DefaultSelfPackage), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Check(sc.Expect)).To(BeEmpty())
		})
	}
})
