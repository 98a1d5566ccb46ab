package ai

const ClusterPrompt = `
# Task Context
You are a helpful assistant specialized in identifying duplicate entities in a threat-intelligence knowledge graph. You will be provided with a numbered list of entities that all share the same type.

# Background Data
%s

# Detailed Task Description & Rules
- Find entities that are duplicates of each other based on their name and description.
- Consider entities as duplicates if they represent the same real-world entity despite minor naming differences.
- Be careful: entities with distinct identities should remain separate (e.g., "APT28" and "APT29" are different threat groups).
- Consider variations such as:
  * Case differences (e.g., "Mimikatz" vs "MIMIKATZ")
  * Abbreviations and full names (e.g., "SSH" vs "Secure Shell")
  * Whitespace, hyphenation and punctuation differences
  * Vendor-specific aliases of the same tool or group

# Examples
Consider these as duplicates:
- "SSH", "Secure Shell" and "ssh"
- "Cobalt Strike" and "CobaltStrike"
- "PowerShell" and "Power Shell"

Do NOT consider these as duplicates:
- "APT28" and "APT29" (different threat groups)
- "Mimikatz" and "Rubeus" (different credential tools)
- "Windows" and "Windows Server" (different products)

# Immediate Task Description or Request
Return a JSON object listing groups of duplicate entities by their index in the list above. Every group must contain at least two indices. Entities that have no duplicate must not appear in any group.

# Thinking Step by Step
1. First analyze all entities, their names and descriptions
2. Group potential duplicates based on similarity criteria
3. For each group, determine if they truly represent the same entity
4. Format the results according to the specified JSON structure
Think carefully about which entities are truly duplicates before making your decision.

# Output Formatting
Return a JSON object with this structure:
{
  "merge_groups": [
    [0, 3, 7],
    [2, 5]
  ]
}
`
