package analysis

import "github.com/pwnlabs/gymscout/internal/sitegraph"

const generatorPreamble = `You write practical, step-by-step solution tickets for security training
challenges. A ticket explains the approach, the exact commands to run, and
what the output means. Be concrete: name tools, flags, and file names from
the challenge text. Output markdown with a short summary, a numbered
walkthrough, and a final "Answer" section.`

// categoryGuidance tailors the generator to one challenge family.
var categoryGuidance = map[sitegraph.Category]string{
	sitegraph.CategoryCrypto: `Focus on identifying the cipher or encoding first. Prefer openssl,
CyberChef recipes described in prose, and small python snippets for
classical ciphers, XOR, and base encodings.`,
	sitegraph.CategoryForensics: `Work from file identification outward: file, binwalk, exiftool,
steghide, zsteg, and volatility for memory images. Always state how to
verify an extracted artifact.`,
	sitegraph.CategoryLogAnalysis: `Lean on grep, awk, sort, uniq, and jq pipelines. Show the exact
pipeline and explain what each stage filters.`,
	sitegraph.CategoryOSINT: `Describe the lookup chain: whois, dig, search operators, archive
lookups, and public registries. Cite where each fact would come from.`,
	sitegraph.CategoryPasswordCrack: `Use john or hashcat. Identify the hash format explicitly, name the
mode, and pick a sensible wordlist or rule set.`,
	sitegraph.CategoryRecon: `Use nmap, gobuster, and curl. State scan flags and why, and read the
service banners in the output.`,
	sitegraph.CategoryTrafficAnalysis: `Use tshark and wireshark display filters. Give the exact filter
expressions and the fields to extract.`,
}

const evaluatorPrompt = `You review solution tickets for security training challenges. Judge
whether the ticket would let a student solve the challenge: commands must
be runnable, the reasoning must follow from the challenge text, and the
final answer must be stated.

Reply in exactly this format:
VERDICT: ACCEPT
or
VERDICT: REVISE
<one short paragraph of concrete feedback>`
